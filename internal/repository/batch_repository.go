package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

const batchDir = "batches"

// stateFiles is the subset of storage.LocalStorage used by the file-backed
// review state repositories.
type stateFiles interface {
	Save(filename string, data []byte) (string, error)
	Read(filename string) ([]byte, error)
	List(dir, suffix string) ([]string, error)
}

func checkPathSegment(kind, value string) error {
	if err := checkFingerprint(value); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid "+kind)
	}
	return nil
}

// PostgresBatchRepository stores submitted batches in review_batches. The
// batch id is the primary key so resubmissions are absorbed by the insert.
type PostgresBatchRepository struct {
	db *sqlx.DB
}

// NewPostgresBatchRepository constructs the repository.
func NewPostgresBatchRepository(db *sqlx.DB) *PostgresBatchRepository {
	return &PostgresBatchRepository{db: db}
}

// Create inserts the batch and reports whether a new row was written.
func (r *PostgresBatchRepository) Create(ctx context.Context, batch models.Batch) (bool, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return false, fmt.Errorf("encode batch: %w", err)
	}
	const query = `INSERT INTO review_batches (id, reviewer_id, period, fingerprint, exported_at, record_count, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, batch.ID, batch.ReviewerID, batch.Period, batch.Fingerprint, batch.ExportedAt, len(batch.Records), payload)
	if err != nil {
		return false, fmt.Errorf("insert batch %s: %w", batch.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("count inserted batch: %w", err)
	}
	return affected == 1, nil
}

// ListByPeriod returns every batch of period in consolidation order.
func (r *PostgresBatchRepository) ListByPeriod(ctx context.Context, period string) ([]models.Batch, error) {
	const query = `SELECT payload FROM review_batches WHERE period = $1 ORDER BY exported_at ASC, reviewer_id ASC, id ASC`
	var payloads [][]byte
	if err := r.db.SelectContext(ctx, &payloads, query, period); err != nil {
		return nil, fmt.Errorf("list batches for %s: %w", period, err)
	}
	batches := make([]models.Batch, 0, len(payloads))
	for _, raw := range payloads {
		var batch models.Batch
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("decode stored batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// FileBatchRepository keeps one JSON file per batch under
// batches/<period>/<id>.json of the state directory.
type FileBatchRepository struct {
	mu    sync.Mutex
	files stateFiles
}

// NewFileBatchRepository constructs the repository.
func NewFileBatchRepository(files stateFiles) *FileBatchRepository {
	return &FileBatchRepository{files: files}
}

// Create writes the batch unless its file already exists.
func (r *FileBatchRepository) Create(_ context.Context, batch models.Batch) (bool, error) {
	if err := checkPathSegment("batch id", batch.ID); err != nil {
		return false, err
	}
	if err := checkPathSegment("period", batch.Period); err != nil {
		return false, err
	}
	name := path.Join(batchDir, batch.Period, batch.ID+".json")

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.files.Read(name); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return false, fmt.Errorf("encode batch: %w", err)
	}
	if _, err := r.files.Save(name, payload); err != nil {
		return false, fmt.Errorf("save batch %s: %w", batch.ID, err)
	}
	return true, nil
}

// ListByPeriod reads every batch stored for period.
func (r *FileBatchRepository) ListByPeriod(_ context.Context, period string) ([]models.Batch, error) {
	if err := checkPathSegment("period", period); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names, err := r.files.List(path.Join(batchDir, period), ".json")
	if err != nil {
		return nil, err
	}
	batches := make([]models.Batch, 0, len(names))
	for _, name := range names {
		raw, err := r.files.Read(name)
		if err != nil {
			return nil, err
		}
		var batch models.Batch
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("decode stored batch %s: %w", name, err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
