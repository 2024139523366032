package models

import "time"

// CanonicalRevisionMap is the authoritative merged view of one review period.
type CanonicalRevisionMap struct {
	Period  string                          `json:"period"`
	Records map[OrderLineKey]RevisionRecord `json:"records"`
}

// NewCanonicalRevisionMap returns an empty map for period.
func NewCanonicalRevisionMap(period string) CanonicalRevisionMap {
	return CanonicalRevisionMap{Period: period, Records: make(map[OrderLineKey]RevisionRecord)}
}

// Clone copies the record map; records themselves are immutable values.
func (c CanonicalRevisionMap) Clone() CanonicalRevisionMap {
	clone := CanonicalRevisionMap{Period: c.Period, Records: make(map[OrderLineKey]RevisionRecord, len(c.Records))}
	for k, v := range c.Records {
		clone.Records[k] = v
	}
	return clone
}

// Lookup returns the authoritative record for key.
func (c CanonicalRevisionMap) Lookup(key OrderLineKey) (RevisionRecord, bool) {
	record, ok := c.Records[key]
	return record, ok
}

// Conflict captures two reviewers deciding the same order line.
type Conflict struct {
	Key    OrderLineKey   `json:"key"`
	Winner RevisionRecord `json:"winner"`
	Loser  RevisionRecord `json:"loser"`
}

// StaleReference is a record pointing at a key absent from the base dataset.
type StaleReference struct {
	Key        OrderLineKey `json:"key"`
	ReviewerID string       `json:"reviewerId"`
	BatchID    string       `json:"batchId,omitempty"`
}

// BatchOutcome summarises how one batch folded into the canonical map.
type BatchOutcome struct {
	BatchID            string    `json:"batchId,omitempty"`
	ReviewerID         string    `json:"reviewerId"`
	Fingerprint        string    `json:"fingerprint"`
	ExportedAt         time.Time `json:"exportedAt"`
	Records            int       `json:"records"`
	Applied            int       `json:"applied"`
	Superseded         int       `json:"superseded"`
	Stale              int       `json:"stale"`
	FingerprintMatches bool      `json:"fingerprintMatches"`
}

// ConsolidationTotals aggregates the per-batch counters.
type ConsolidationTotals struct {
	Batches   int `json:"batches"`
	Records   int `json:"records"`
	Applied   int `json:"applied"`
	Conflicts int `json:"conflicts"`
	Stale     int `json:"stale"`
}

// ConsolidationReport enumerates the outcome of one consolidation run.
type ConsolidationReport struct {
	Batches         []BatchOutcome      `json:"batches"`
	Conflicts       []Conflict          `json:"conflicts"`
	StaleReferences []StaleReference    `json:"staleReferences"`
	Totals          ConsolidationTotals `json:"totals"`
}

// ConsolidationRun records one persisted consolidation.
type ConsolidationRun struct {
	ID          string              `db:"id" json:"id"`
	Period      string              `db:"period" json:"period"`
	Fingerprint string              `db:"fingerprint" json:"fingerprint"`
	RunBy       string              `db:"run_by" json:"runBy"`
	CreatedAt   time.Time           `db:"created_at" json:"createdAt"`
	Report      ConsolidationReport `db:"-" json:"report"`
}
