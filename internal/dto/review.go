package dto

import (
	"github.com/noah-isme/portfolio-review-api/internal/models"
)

// SnapshotIngestRequest carries an already-parsed dataset.
type SnapshotIngestRequest struct {
	Period  string             `json:"period" validate:"required"`
	Columns []string           `json:"columns"`
	Rows    []models.OrderLine `json:"rows" validate:"required,min=1,dive"`
}

// SnapshotIngestResponse reports where a dataset was stored.
type SnapshotIngestResponse struct {
	Fingerprint string `json:"fingerprint"`
	Rows        int    `json:"rows"`
	ExpiresAt   string `json:"expiresAt"`
	Degraded    bool   `json:"degraded"`
}

// IssueLinksRequest asks for reviewer links. An empty reviewer list issues a
// link for every reviewer assigned in the snapshot.
type IssueLinksRequest struct {
	Month       int      `json:"month" validate:"required,min=1,max=12"`
	Year        int      `json:"year" validate:"required,min=2000"`
	Fingerprint string   `json:"fingerprint"`
	Reviewers   []string `json:"reviewers"`
}

// ConsolidationRequest triggers a consolidation run for a period.
type ConsolidationRequest struct {
	Period      string `json:"period" validate:"required"`
	Fingerprint string `json:"fingerprint"`
}

// BatchSummary lists a stored batch without its records.
type BatchSummary struct {
	ID          string `json:"id"`
	ReviewerID  string `json:"reviewerId"`
	Period      string `json:"period"`
	Fingerprint string `json:"fingerprint"`
	ExportedAt  string `json:"exportedAt"`
	Records     int    `json:"records"`
}

// BatchReceipt acknowledges a submitted batch.
type BatchReceipt struct {
	ID        string `json:"id"`
	Records   int    `json:"records"`
	Duplicate bool   `json:"duplicate"`
}
