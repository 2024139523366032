package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

type cacheRepoStub struct {
	patterns []string
	err      error
}

func (c *cacheRepoStub) Get(context.Context, string, interface{}) error {
	return appErrors.ErrCacheMiss
}

func (c *cacheRepoStub) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (c *cacheRepoStub) DeleteByPattern(_ context.Context, pattern string) error {
	c.patterns = append(c.patterns, pattern)
	return c.err
}

func consolidationFixture(t *testing.T) (*ConsolidationService, *memoryCanonicalRepository, *cacheRepoStub, string) {
	t.Helper()
	store, _ := newTestStore(nil)
	snap := testSnapshot()
	snap.Rows[1].ReviewerID = "GC-B"
	snap.Fingerprint = ""
	fp, err := store.Put(context.Background(), snap)
	require.NoError(t, err)

	batches := newMemoryBatchRepository(
		withPeriod(batchOf("b", "GC-B", t2, rescheduled(keyK, "GC-B", t2, "2025-09-10")), "2025-09"),
		withPeriod(batchOf("a", "GC-A", t1, confirmed(keyK, "GC-A", t1), confirmed(keyStale, "GC-A", t1)), "2025-09"),
		withPeriod(batchOf("c", "GC-A", t1, confirmed(keyOther, "GC-A", t1)), "2025-10"),
	)
	canonical := newMemoryCanonicalRepository()
	cacheRepo := &cacheRepoStub{}
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewConsolidationService(canonical, batches, store, cache, NewMetricsService(), nil)
	return svc, canonical, cacheRepo, fp
}

func withPeriod(b models.Batch, period string) models.Batch {
	b.Period = period
	return b
}

func TestConsolidationServiceRun(t *testing.T) {
	svc, repo, cacheRepo, fp := consolidationFixture(t)

	run, err := svc.Run(context.Background(), "2025-09", fp, "admin")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.Equal(t, fp, run.Fingerprint)
	require.Equal(t, "admin", run.RunBy)
	require.Equal(t, 2, run.Report.Totals.Batches)
	require.Equal(t, 1, run.Report.Totals.Conflicts)
	require.Equal(t, 1, run.Report.Totals.Stale)

	canonical, err := svc.Canonical(context.Background(), "2025-09")
	require.NoError(t, err)
	require.Len(t, canonical.Records, 1)
	require.Equal(t, "GC-B", canonical.Records[keyK].ReviewerID)

	require.Len(t, repo.runs, 1)
	require.Equal(t, []string{ProjectionCachePattern("2025-09")}, cacheRepo.patterns)
}

func TestConsolidationServiceRerunIsStable(t *testing.T) {
	svc, _, _, fp := consolidationFixture(t)
	_, err := svc.Run(context.Background(), "2025-09", fp, "admin")
	require.NoError(t, err)
	first, err := svc.Canonical(context.Background(), "2025-09")
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), "2025-09", "", "admin")
	require.NoError(t, err)
	second, err := svc.Canonical(context.Background(), "2025-09")
	require.NoError(t, err)
	require.Equal(t, first.Records, second.Records)
}

func TestConsolidationServiceWithoutBaseSnapshot(t *testing.T) {
	svc, _, _, _ := consolidationFixture(t)
	run, err := svc.Run(context.Background(), "2025-09", "unknown-fp", "admin")
	require.NoError(t, err)
	require.Equal(t, 0, run.Report.Totals.Stale)
	require.Equal(t, "unknown-fp", run.Fingerprint)
}

func TestConsolidationServiceCacheFailureDoesNotFailRun(t *testing.T) {
	svc, _, cacheRepo, fp := consolidationFixture(t)
	cacheRepo.err = errors.New("redis down")
	_, err := svc.Run(context.Background(), "2025-09", fp, "admin")
	require.NoError(t, err)
}

func TestConsolidationServiceValidatesPeriod(t *testing.T) {
	svc, _, _, _ := consolidationFixture(t)
	_, err := svc.Run(context.Background(), "2025/09", "", "admin")
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.Canonical(context.Background(), "")
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestConsolidationServiceSerialisesRuns(t *testing.T) {
	svc, repo, _, fp := consolidationFixture(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Run(context.Background(), "2025-09", fp, "admin")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, repo.runs, 8)
}

type memoryCanonicalRepository struct {
	mu   sync.Mutex
	maps map[string]models.CanonicalRevisionMap
	runs []models.ConsolidationRun
}

func newMemoryCanonicalRepository() *memoryCanonicalRepository {
	return &memoryCanonicalRepository{maps: make(map[string]models.CanonicalRevisionMap)}
}

func (r *memoryCanonicalRepository) Load(_ context.Context, period string) (models.CanonicalRevisionMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.maps[period]; ok {
		return m.Clone(), nil
	}
	return models.NewCanonicalRevisionMap(period), nil
}

func (r *memoryCanonicalRepository) Save(_ context.Context, canonical models.CanonicalRevisionMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maps[canonical.Period] = canonical.Clone()
	return nil
}

func (r *memoryCanonicalRepository) SaveRun(_ context.Context, run models.ConsolidationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *memoryCanonicalRepository) LatestRun(_ context.Context, period string) (*models.ConsolidationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].Period == period {
			run := r.runs[i]
			return &run, nil
		}
	}
	return nil, appErrors.ErrNotFound
}
