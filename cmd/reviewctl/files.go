package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	"github.com/noah-isme/portfolio-review-api/internal/service"
	"github.com/noah-isme/portfolio-review-api/pkg/storage"
)

// loadSnapshot reads a dataset file ({"period", "columns", "rows"}) and
// stamps it with its fingerprint.
func loadSnapshot(path string, sampleRows int) (*models.DatasetSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var snapshot models.DatasetSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if len(snapshot.Rows) == 0 {
		return nil, fmt.Errorf("dataset %s has no rows", path)
	}
	if len(snapshot.Columns) == 0 {
		snapshot.Columns = models.DefaultColumns
	}
	snapshot.Fingerprint = service.FingerprintSnapshot(&snapshot, sampleRows)
	return &snapshot, nil
}

func loadBatch(path string) (models.Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Batch{}, fmt.Errorf("read batch: %w", err)
	}
	batch, err := service.DecodeBatch(raw)
	if err != nil {
		return models.Batch{}, fmt.Errorf("decode batch %s: %w", path, err)
	}
	if batch.ID == "" {
		if batch.ID, err = service.BatchID(batch); err != nil {
			return models.Batch{}, err
		}
	}
	return batch, nil
}

// loadCanonical returns an empty map for period when path does not exist yet.
func loadCanonical(path, period string) (models.CanonicalRevisionMap, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewCanonicalRevisionMap(period), nil
	}
	if err != nil {
		return models.CanonicalRevisionMap{}, fmt.Errorf("read canonical: %w", err)
	}
	var canonical models.CanonicalRevisionMap
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return models.CanonicalRevisionMap{}, fmt.Errorf("decode canonical %s: %w", path, err)
	}
	if canonical.Records == nil {
		canonical.Records = map[models.OrderLineKey]models.RevisionRecord{}
	}
	if period != "" && canonical.Period != "" && canonical.Period != period {
		return models.CanonicalRevisionMap{}, fmt.Errorf("canonical %s belongs to period %s, not %s", path, canonical.Period, period)
	}
	if canonical.Period == "" {
		canonical.Period = period
	}
	return canonical, nil
}

// writeJSON replaces path atomically through a LocalStorage rooted at its
// directory.
func writeJSON(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	files, err := storage.NewLocalStorage(filepath.Dir(path))
	if err != nil {
		return err
	}
	_, err = files.Save(filepath.Base(path), append(raw, '\n'))
	return err
}

// openLedger opens the reviewer ledger over the dataset, restoring earlier
// decisions from ledgerPath when the file exists.
func openLedger(datasetPath, ledgerPath, reviewerID string, sampleRows int) (*service.Ledger, error) {
	snapshot, err := loadSnapshot(datasetPath, sampleRows)
	if err != nil {
		return nil, err
	}
	ledger, err := service.NewLedger(reviewerID, snapshot)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(ledgerPath); errors.Is(err, fs.ErrNotExist) {
		return ledger, nil
	}
	batch, err := loadBatch(ledgerPath)
	if err != nil {
		return nil, err
	}
	if err := ledger.Restore(batch); err != nil {
		return nil, fmt.Errorf("restore ledger %s: %w", ledgerPath, err)
	}
	return ledger, nil
}

func defaultLedgerPath(reviewerID string) string {
	return fmt.Sprintf("ledger-%s.json", strings.ToLower(strings.TrimSpace(reviewerID)))
}
