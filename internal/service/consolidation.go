package service

import (
	"sort"

	"github.com/noah-isme/portfolio-review-api/internal/models"
)

// ConsolidationBase is the administrator's current dataset as seen by the
// merge: its fingerprint and the keys it contains. A nil Keys set disables
// stale-reference detection.
type ConsolidationBase struct {
	Fingerprint string
	Keys        models.KeySet
}

// BaseFromSnapshot derives the consolidation base from a snapshot.
func BaseFromSnapshot(snapshot *models.DatasetSnapshot) ConsolidationBase {
	if snapshot == nil {
		return ConsolidationBase{}
	}
	return ConsolidationBase{Fingerprint: snapshot.Fingerprint, Keys: snapshot.Keys()}
}

// SortBatches returns a copy of batches ordered by export time, then reviewer
// id, then fingerprint, then batch id.
func SortBatches(batches []models.Batch) []models.Batch {
	sorted := append([]models.Batch(nil), batches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ExportedAt.Equal(b.ExportedAt) {
			return a.ExportedAt.Before(b.ExportedAt)
		}
		if a.ReviewerID != b.ReviewerID {
			return a.ReviewerID < b.ReviewerID
		}
		if a.Fingerprint != b.Fingerprint {
			return a.Fingerprint < b.Fingerprint
		}
		return a.ID < b.ID
	})
	return sorted
}

// Consolidate folds batches, in the order given, into a copy of existing.
//
// A key not yet in the map is inserted. A record from the reviewer who owns
// the current entry overwrites it. A record from a different reviewer is a
// conflict: the later decision wins, ties going to the smaller reviewer id,
// and both records are kept in the report. Keys outside the base dataset are
// reported as stale and never applied.
//
// The function does not touch its inputs and reads no clock, so the same
// inputs always produce the same map and report.
func Consolidate(existing models.CanonicalRevisionMap, batches []models.Batch, base ConsolidationBase) (models.CanonicalRevisionMap, models.ConsolidationReport) {
	canonical := existing.Clone()
	report := models.ConsolidationReport{
		Batches:         make([]models.BatchOutcome, 0, len(batches)),
		Conflicts:       make([]models.Conflict, 0),
		StaleReferences: make([]models.StaleReference, 0),
	}

	for _, batch := range batches {
		outcome := models.BatchOutcome{
			BatchID:            batch.ID,
			ReviewerID:         batch.ReviewerID,
			Fingerprint:        batch.Fingerprint,
			ExportedAt:         batch.ExportedAt,
			Records:            len(batch.Records),
			FingerprintMatches: base.Fingerprint == "" || batch.Fingerprint == base.Fingerprint,
		}

		for _, key := range batch.SortedKeys() {
			incoming := batch.Records[key]
			incoming.Key = key
			if incoming.ReviewerID == "" {
				incoming.ReviewerID = batch.ReviewerID
			}

			if base.Keys != nil && !base.Keys.Has(key) {
				outcome.Stale++
				report.StaleReferences = append(report.StaleReferences, models.StaleReference{
					Key:        key,
					ReviewerID: incoming.ReviewerID,
					BatchID:    batch.ID,
				})
				continue
			}

			current, exists := canonical.Records[key]
			switch {
			case !exists, current.ReviewerID == incoming.ReviewerID:
				canonical.Records[key] = incoming
				outcome.Applied++
			case incoming.Supersedes(current):
				canonical.Records[key] = incoming
				outcome.Applied++
				report.Conflicts = append(report.Conflicts, models.Conflict{Key: key, Winner: incoming, Loser: current})
			default:
				outcome.Superseded++
				report.Conflicts = append(report.Conflicts, models.Conflict{Key: key, Winner: current, Loser: incoming})
			}
		}

		report.Totals.Batches++
		report.Totals.Records += outcome.Records
		report.Totals.Applied += outcome.Applied
		report.Batches = append(report.Batches, outcome)
	}

	report.Totals.Conflicts = len(report.Conflicts)
	report.Totals.Stale = len(report.StaleReferences)
	return canonical, report
}
