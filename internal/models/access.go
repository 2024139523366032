package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReviewPeriod is the (month, year) pair a review cycle targets.
type ReviewPeriod struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// NewReviewPeriod validates and builds a period.
func NewReviewPeriod(month, year int) (ReviewPeriod, error) {
	p := ReviewPeriod{Month: month, Year: year}
	if !p.Valid() {
		return ReviewPeriod{}, fmt.Errorf("invalid review period %d/%d", month, year)
	}
	return p, nil
}

// ParseReviewPeriod parses "YYYY-MM".
func ParseReviewPeriod(raw string) (ReviewPeriod, error) {
	year, month, found := strings.Cut(strings.TrimSpace(raw), "-")
	if !found {
		return ReviewPeriod{}, fmt.Errorf("invalid review period %q", raw)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return ReviewPeriod{}, fmt.Errorf("invalid review period year %q", year)
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return ReviewPeriod{}, fmt.Errorf("invalid review period month %q", month)
	}
	return NewReviewPeriod(m, y)
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) ReviewPeriod {
	return ReviewPeriod{Month: int(t.Month()), Year: t.Year()}
}

// Valid reports whether month and year are in range.
func (p ReviewPeriod) Valid() bool {
	return p.Month >= 1 && p.Month <= 12 && p.Year >= 2000 && p.Year <= 9999
}

// String renders "YYYY-MM".
func (p ReviewPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// AccessRequest carries the parameters of a reviewer access link.
type AccessRequest struct {
	ReviewerID  string       `json:"reviewerId"`
	Token       string       `json:"token"`
	Period      ReviewPeriod `json:"period"`
	Fingerprint string       `json:"fingerprint,omitempty"`
}

// AccessLink is an issued reviewer link.
type AccessLink struct {
	ReviewerID  string       `json:"reviewerId"`
	Period      ReviewPeriod `json:"period"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Token       string       `json:"token"`
	URL         string       `json:"url"`
}

// AccessGrant is what a verified reviewer receives.
type AccessGrant struct {
	ReviewerID string           `json:"reviewerId"`
	Period     ReviewPeriod     `json:"period"`
	Degraded   bool             `json:"degraded"`
	Snapshot   *DatasetSnapshot `json:"snapshot"`
}
