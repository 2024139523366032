package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

type jsonCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newJSONCacheRepo() *jsonCacheRepo {
	return &jsonCacheRepo{entries: make(map[string][]byte)}
}

func (c *jsonCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *jsonCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	c.sets++
	return nil
}

func (c *jsonCacheRepo) DeleteByPattern(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	return nil
}

func TestProjectDerivesStatuses(t *testing.T) {
	snap := testSnapshot()
	snap.Fingerprint = "fp-1"
	canonical := models.NewCanonicalRevisionMap("2025-09")
	canonical.Records[keyK] = rescheduled(keyK, "GC-01", t1, "2025-09-20")
	canonical.Records[keyStale] = confirmed(keyStale, "GC-01", t1)

	projection := Project(snap, canonical)
	require.Equal(t, "fp-1", projection.Fingerprint)
	require.Len(t, projection.Rows, 2)

	require.Equal(t, models.LineStatusRescheduled, projection.Rows[0].Status)
	require.Equal(t, "GC-01", projection.Rows[0].DecidedBy)
	require.Equal(t, "2025-09-20", projection.Rows[0].NewDueDate.String())
	require.Equal(t, models.LineStatusPending, projection.Rows[1].Status)
	require.Nil(t, projection.Rows[1].DecidedAt)

	require.Equal(t, 2, projection.Overall.Total)
	require.Equal(t, 1, projection.Overall.Rescheduled)
	require.Equal(t, 1, projection.Overall.Pending)
	require.Equal(t, 50.0, projection.Overall.Percentage)
	require.True(t, decimal.RequireFromString("177200000").Equal(projection.Overall.Balance))

	require.Len(t, projection.ByReviewer, 2)
	require.Equal(t, "GC-01", projection.ByReviewer[0].Name)
	require.Equal(t, 100.0, projection.ByReviewer[0].Percentage)
	require.Equal(t, "GC-02", projection.ByReviewer[1].Name)
	require.Equal(t, 0.0, projection.ByReviewer[1].Percentage)

	require.Equal(t, []string{"A", "B"}, []string{projection.ByGroup[0].Name, projection.ByGroup[1].Name})
}

func TestProjectRoundsPercentage(t *testing.T) {
	snap := &models.DatasetSnapshot{Fingerprint: "fp", Rows: []models.OrderLine{
		{OrderID: "1", ReviewerID: "GC-01"},
		{OrderID: "2", ReviewerID: "GC-01"},
		{OrderID: "3", ReviewerID: "GC-01"},
	}}
	canonical := models.NewCanonicalRevisionMap("2025-09")
	key := models.NewOrderLineKey("1", "")
	canonical.Records[key] = confirmed(key, "GC-01", t1)

	projection := Project(snap, canonical)
	require.Equal(t, 33.3, projection.Overall.Percentage)
	require.Equal(t, ungrouped, projection.ByGroup[0].Name)
}

func TestProjectNilSnapshot(t *testing.T) {
	projection := Project(nil, models.NewCanonicalRevisionMap("2025-09"))
	require.Empty(t, projection.Rows)
	require.Equal(t, OverallSummaryName, projection.Overall.Name)
}

func TestProjectionServiceCachesResult(t *testing.T) {
	store, _ := newTestStore(nil)
	fp, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)

	canonicalRepo := newMemoryCanonicalRepository()
	current := models.NewCanonicalRevisionMap("2025-09")
	current.Records[keyK] = confirmed(keyK, "GC-01", t1)
	require.NoError(t, canonicalRepo.Save(context.Background(), current))

	cacheRepo := newJSONCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewProjectionService(store, canonicalRepo, cache, time.Minute, NewMetricsService(), nil)

	first, hit, err := svc.Get(context.Background(), "2025-09", fp)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, 1, first.Overall.Confirmed)

	second, hit, err := svc.Get(context.Background(), "2025-09", "")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, first.Overall.Confirmed, second.Overall.Confirmed)
	require.Equal(t, 1, cacheRepo.sets)
}

func TestProjectionServiceUnknownSnapshot(t *testing.T) {
	store, _ := newTestStore(nil)
	svc := NewProjectionService(store, newMemoryCanonicalRepository(), nil, 0, nil, nil)

	_, _, err := svc.Get(context.Background(), "2025-09", "missing")
	require.ErrorIs(t, err, appErrors.ErrDatasetUnavailable)
	_, _, err = svc.Get(context.Background(), "09-2025", "")
	require.ErrorIs(t, err, appErrors.ErrValidation)
}
