package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
	"github.com/noah-isme/portfolio-review-api/pkg/storage"
)

var decidedAt = time.Date(2025, 9, 2, 9, 0, 0, 0, time.UTC)

func reviewBatch(id, reviewer string) models.Batch {
	key := models.NewOrderLineKey("4500001", "MAT-1")
	return models.Batch{
		ID:          id,
		Version:     models.BatchVersion,
		ReviewerID:  reviewer,
		Period:      "2025-09",
		Fingerprint: "fp-1",
		ExportedAt:  decidedAt,
		Records: map[models.OrderLineKey]models.RevisionRecord{
			key: {Key: key, ReviewerID: reviewer, DecidedAt: decidedAt, Action: models.ActionConfirmed},
		},
	}
}

func newStateFiles(t *testing.T) *storage.LocalStorage {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return files
}

func TestFileBatchRepositoryCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewFileBatchRepository(newStateFiles(t))

	created, err := repo.Create(ctx, reviewBatch("b-1", "GC-01"))
	require.NoError(t, err)
	require.True(t, created)

	created, err = repo.Create(ctx, reviewBatch("b-1", "GC-01"))
	require.NoError(t, err)
	require.False(t, created)

	created, err = repo.Create(ctx, reviewBatch("b-2", "GC-02"))
	require.NoError(t, err)
	require.True(t, created)

	batches, err := repo.ListByPeriod(ctx, "2025-09")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Len(t, batches[0].Records, 1)

	empty, err := repo.ListByPeriod(ctx, "2025-10")
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = repo.ListByPeriod(ctx, "../2025")
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestPostgresBatchRepository(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPostgresBatchRepository(db)
	ctx := context.Background()
	batch := reviewBatch("b-1", "GC-01")

	insert := regexp.QuoteMeta("INSERT INTO review_batches")
	mock.ExpectExec(insert).
		WithArgs("b-1", "GC-01", "2025-09", "fp-1", decidedAt, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).
		WithArgs("b-1", "GC-01", "2025-09", "fp-1", decidedAt, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Create(ctx, batch)
	require.NoError(t, err)
	require.True(t, created)
	created, err = repo.Create(ctx, batch)
	require.NoError(t, err)
	require.False(t, created)

	payload, err := json.Marshal(batch)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM review_batches WHERE period = $1")).
		WithArgs("2025-09").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	batches, err := repo.ListByPeriod(ctx, "2025-09")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "b-1", batches[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileCanonicalRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewFileCanonicalRepository(newStateFiles(t))

	empty, err := repo.Load(ctx, "2025-09")
	require.NoError(t, err)
	require.Equal(t, "2025-09", empty.Period)
	require.Empty(t, empty.Records)

	canonical := models.NewCanonicalRevisionMap("2025-09")
	for key, record := range reviewBatch("b-1", "GC-01").Records {
		canonical.Records[key] = record
	}
	require.NoError(t, repo.Save(ctx, canonical))

	loaded, err := repo.Load(ctx, "2025-09")
	require.NoError(t, err)
	require.Equal(t, canonical.Records, loaded.Records)

	_, err = repo.LatestRun(ctx, "2025-09")
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	first := models.ConsolidationRun{ID: "run-b", Period: "2025-09", RunBy: "admin", CreatedAt: decidedAt}
	second := models.ConsolidationRun{ID: "run-a", Period: "2025-09", RunBy: "admin", CreatedAt: decidedAt.Add(time.Minute),
		Report: models.ConsolidationReport{Totals: models.ConsolidationTotals{Batches: 2}}}
	require.NoError(t, repo.SaveRun(ctx, first))
	require.NoError(t, repo.SaveRun(ctx, second))

	latest, err := repo.LatestRun(ctx, "2025-09")
	require.NoError(t, err)
	require.Equal(t, "run-a", latest.ID)
	require.Equal(t, 2, latest.Report.Totals.Batches)
}

func TestPostgresCanonicalRepository(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewPostgresCanonicalRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM canonical_revisions WHERE period = $1")).
		WithArgs("2025-09").
		WillReturnError(sql.ErrNoRows)
	empty, err := repo.Load(ctx, "2025-09")
	require.NoError(t, err)
	require.Empty(t, empty.Records)

	canonical := models.NewCanonicalRevisionMap("2025-09")
	for key, record := range reviewBatch("b-1", "GC-01").Records {
		canonical.Records[key] = record
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO canonical_revisions")).
		WithArgs("2025-09", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(ctx, canonical))

	payload, err := json.Marshal(canonical)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM canonical_revisions WHERE period = $1")).
		WithArgs("2025-09").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))
	loaded, err := repo.Load(ctx, "2025-09")
	require.NoError(t, err)
	require.Equal(t, canonical.Records, loaded.Records)

	run := models.ConsolidationRun{ID: "run-1", Period: "2025-09", Fingerprint: "fp-1", RunBy: "admin", CreatedAt: decidedAt}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO consolidation_runs")).
		WithArgs("run-1", "2025-09", "fp-1", "admin", sqlmock.AnyArg(), decidedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveRun(ctx, run))

	mock.ExpectQuery(regexp.QuoteMeta("FROM consolidation_runs")).
		WithArgs("2025-09").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period", "fingerprint", "run_by", "report", "created_at"}).
			AddRow("run-1", "2025-09", "fp-1", "admin", []byte(`{"totals":{"batches":3}}`), decidedAt))
	latest, err := repo.LatestRun(ctx, "2025-09")
	require.NoError(t, err)
	require.Equal(t, 3, latest.Report.Totals.Batches)

	mock.ExpectQuery(regexp.QuoteMeta("FROM consolidation_runs")).
		WithArgs("2025-10").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.LatestRun(ctx, "2025-10")
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
