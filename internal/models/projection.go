package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineStatus is the derived state of an order line after consolidation.
type LineStatus string

const (
	LineStatusPending     LineStatus = "PENDING"
	LineStatusConfirmed   LineStatus = "CONFIRMED"
	LineStatusRescheduled LineStatus = "RESCHEDULED"
)

// ProjectionRow pairs a base row with its canonical decision.
type ProjectionRow struct {
	Line          OrderLine  `json:"line"`
	Status        LineStatus `json:"status"`
	DecidedBy     string     `json:"decidedBy,omitempty"`
	DecidedAt     *time.Time `json:"decidedAt,omitempty"`
	NewDueDate    *Date      `json:"newDueDate,omitempty"`
	Justification string     `json:"justification,omitempty"`
}

// CompletionSummary aggregates progress for a reviewer or group.
type CompletionSummary struct {
	Name        string          `json:"name"`
	Total       int             `json:"total"`
	Confirmed   int             `json:"confirmed"`
	Rescheduled int             `json:"rescheduled"`
	Pending     int             `json:"pending"`
	Percentage  float64         `json:"percentage"`
	Balance     decimal.Decimal `json:"balance"`
}

// Projection is the canonical map applied onto the base dataset.
type Projection struct {
	Fingerprint string              `json:"fingerprint"`
	Period      string              `json:"period"`
	Rows        []ProjectionRow     `json:"rows"`
	ByReviewer  []CompletionSummary `json:"byReviewer"`
	ByGroup     []CompletionSummary `json:"byGroup"`
	Overall     CompletionSummary   `json:"overall"`
}
