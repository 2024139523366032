package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

const (
	canonicalDir  = "canonical"
	runDir        = "runs"
	runNameLayout = "20060102T150405.000000000Z"
)

func noRunFor(period string) error {
	return appErrors.Clone(appErrors.ErrNotFound, "no consolidation run for period "+period)
}

func decodeCanonical(period string, raw []byte) (models.CanonicalRevisionMap, error) {
	canonical := models.NewCanonicalRevisionMap(period)
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return models.CanonicalRevisionMap{}, fmt.Errorf("decode canonical revisions: %w", err)
	}
	if canonical.Records == nil {
		canonical.Records = make(map[models.OrderLineKey]models.RevisionRecord)
	}
	canonical.Period = period
	return canonical, nil
}

// PostgresCanonicalRepository stores the canonical map of each period and
// the history of consolidation runs.
type PostgresCanonicalRepository struct {
	db *sqlx.DB
}

// NewPostgresCanonicalRepository constructs the repository.
func NewPostgresCanonicalRepository(db *sqlx.DB) *PostgresCanonicalRepository {
	return &PostgresCanonicalRepository{db: db}
}

// Load returns the canonical map of period, empty when nothing was saved.
func (r *PostgresCanonicalRepository) Load(ctx context.Context, period string) (models.CanonicalRevisionMap, error) {
	var raw []byte
	err := r.db.GetContext(ctx, &raw, `SELECT payload FROM canonical_revisions WHERE period = $1`, period)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NewCanonicalRevisionMap(period), nil
		}
		return models.CanonicalRevisionMap{}, fmt.Errorf("load canonical revisions %s: %w", period, err)
	}
	return decodeCanonical(period, raw)
}

// Save replaces the canonical map of its period.
func (r *PostgresCanonicalRepository) Save(ctx context.Context, canonical models.CanonicalRevisionMap) error {
	payload, err := json.Marshal(canonical)
	if err != nil {
		return fmt.Errorf("encode canonical revisions: %w", err)
	}
	const query = `INSERT INTO canonical_revisions (period, payload, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (period) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, canonical.Period, payload); err != nil {
		return fmt.Errorf("save canonical revisions %s: %w", canonical.Period, err)
	}
	return nil
}

type runRow struct {
	ID          string    `db:"id"`
	Period      string    `db:"period"`
	Fingerprint string    `db:"fingerprint"`
	RunBy       string    `db:"run_by"`
	Report      []byte    `db:"report"`
	CreatedAt   time.Time `db:"created_at"`
}

// SaveRun appends a consolidation run.
func (r *PostgresCanonicalRepository) SaveRun(ctx context.Context, run models.ConsolidationRun) error {
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("encode consolidation report: %w", err)
	}
	const query = `INSERT INTO consolidation_runs (id, period, fingerprint, run_by, report, created_at)
VALUES (:id, :period, :fingerprint, :run_by, :report, :created_at)`
	row := runRow{
		ID:          run.ID,
		Period:      run.Period,
		Fingerprint: run.Fingerprint,
		RunBy:       run.RunBy,
		Report:      report,
		CreatedAt:   run.CreatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save consolidation run %s: %w", run.ID, err)
	}
	return nil
}

// LatestRun returns the most recent run of period or ErrNotFound.
func (r *PostgresCanonicalRepository) LatestRun(ctx context.Context, period string) (*models.ConsolidationRun, error) {
	const query = `SELECT id, period, fingerprint, run_by, report, created_at FROM consolidation_runs
WHERE period = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	var row runRow
	if err := r.db.GetContext(ctx, &row, query, period); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, noRunFor(period)
		}
		return nil, fmt.Errorf("load latest consolidation run %s: %w", period, err)
	}
	run := &models.ConsolidationRun{
		ID:          row.ID,
		Period:      row.Period,
		Fingerprint: row.Fingerprint,
		RunBy:       row.RunBy,
		CreatedAt:   row.CreatedAt,
	}
	if err := json.Unmarshal(row.Report, &run.Report); err != nil {
		return nil, fmt.Errorf("decode consolidation report: %w", err)
	}
	return run, nil
}

// FileCanonicalRepository keeps canonical/<period>.json and one file per run
// under runs/<period>/ named so that lexical order is chronological.
type FileCanonicalRepository struct {
	mu    sync.Mutex
	files stateFiles
}

// NewFileCanonicalRepository constructs the repository.
func NewFileCanonicalRepository(files stateFiles) *FileCanonicalRepository {
	return &FileCanonicalRepository{files: files}
}

// Load returns the canonical map of period, empty when nothing was saved.
func (r *FileCanonicalRepository) Load(_ context.Context, period string) (models.CanonicalRevisionMap, error) {
	if err := checkPathSegment("period", period); err != nil {
		return models.CanonicalRevisionMap{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, err := r.files.Read(path.Join(canonicalDir, period+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.NewCanonicalRevisionMap(period), nil
		}
		return models.CanonicalRevisionMap{}, err
	}
	return decodeCanonical(period, raw)
}

// Save replaces the canonical map file of its period.
func (r *FileCanonicalRepository) Save(_ context.Context, canonical models.CanonicalRevisionMap) error {
	if err := checkPathSegment("period", canonical.Period); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(canonical, "", "  ")
	if err != nil {
		return fmt.Errorf("encode canonical revisions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.files.Save(path.Join(canonicalDir, canonical.Period+".json"), payload); err != nil {
		return fmt.Errorf("save canonical revisions %s: %w", canonical.Period, err)
	}
	return nil
}

// SaveRun writes the run file.
func (r *FileCanonicalRepository) SaveRun(_ context.Context, run models.ConsolidationRun) error {
	if err := checkPathSegment("period", run.Period); err != nil {
		return err
	}
	if err := checkPathSegment("run id", run.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode consolidation run: %w", err)
	}
	name := path.Join(runDir, run.Period, run.CreatedAt.UTC().Format(runNameLayout)+"-"+run.ID+".json")
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.files.Save(name, payload); err != nil {
		return fmt.Errorf("save consolidation run %s: %w", run.ID, err)
	}
	return nil
}

// LatestRun reads the last run file of period or returns ErrNotFound.
func (r *FileCanonicalRepository) LatestRun(_ context.Context, period string) (*models.ConsolidationRun, error) {
	if err := checkPathSegment("period", period); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names, err := r.files.List(path.Join(runDir, period), ".json")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, noRunFor(period)
	}
	raw, err := r.files.Read(names[len(names)-1])
	if err != nil {
		return nil, err
	}
	var run models.ConsolidationRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode consolidation run: %w", err)
	}
	return &run, nil
}
