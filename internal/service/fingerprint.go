package service

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/portfolio-review-api/internal/models"
)

// DefaultFingerprintSample is the number of leading rows hashed when no
// sample size is configured.
const DefaultFingerprintSample = 50

const fingerprintBytes = 16

// Fingerprint derives a content identifier from the column schema and the
// first sample rows. Rows are serialised as their values in column order, so
// a schema change (set or order) changes the fingerprint. Equal fingerprints
// mean "almost certainly the same dataset", not a commitment.
func Fingerprint(columns []string, rows []models.OrderLine, sample int) string {
	if sample <= 0 {
		sample = DefaultFingerprintSample
	}
	if sample > len(rows) {
		sample = len(rows)
	}

	payload := make([][]string, 0, sample+1)
	payload = append(payload, append([]string{}, columns...))
	for _, row := range rows[:sample] {
		values := make([]string, len(columns))
		for i, column := range columns {
			values[i] = row.Value(column)
		}
		payload = append(payload, values)
	}

	// [][]string always marshals.
	encoded, _ := json.Marshal(payload)
	sum := blake2b.Sum256(encoded)
	return hex.EncodeToString(sum[:fingerprintBytes])
}

// FingerprintSnapshot fingerprints a snapshot, falling back to the default
// column set when the snapshot declares none.
func FingerprintSnapshot(snapshot *models.DatasetSnapshot, sample int) string {
	columns := snapshot.Columns
	if len(columns) == 0 {
		columns = models.DefaultColumns
	}
	return Fingerprint(columns, snapshot.Rows, sample)
}
