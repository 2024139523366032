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

type snapshotBackendStub struct {
	mu        sync.Mutex
	items     map[string]*models.DatasetSnapshot
	saveErr   error
	loadErr   error
	block     bool
	saveCalls int
	deleted   []string
}

func newSnapshotBackendStub() *snapshotBackendStub {
	return &snapshotBackendStub{items: map[string]*models.DatasetSnapshot{}}
}

func (s *snapshotBackendStub) Save(ctx context.Context, snapshot *models.DatasetSnapshot) error {
	s.mu.Lock()
	s.saveCalls++
	block, err := s.block, s.saveErr
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items[snapshot.Fingerprint] = snapshot.Clone()
	s.mu.Unlock()
	return nil
}

func (s *snapshotBackendStub) Load(ctx context.Context, fingerprint string) (*models.DatasetSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	snap, ok := s.items[fingerprint]
	if !ok {
		return nil, appErrors.ErrSnapshotNotFound
	}
	return snap.Clone(), nil
}

func (s *snapshotBackendStub) Latest(ctx context.Context) (*models.DatasetSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var latest *models.DatasetSnapshot
	for _, snap := range s.items {
		if latest == nil || snap.CreatedAt.After(latest.CreatedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, appErrors.ErrSnapshotNotFound
	}
	return latest.Clone(), nil
}

func (s *snapshotBackendStub) Delete(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, fingerprint)
	s.deleted = append(s.deleted, fingerprint)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(backend SnapshotBackend) (*SnapshotStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}
	store := NewSnapshotStore(backend, SnapshotStoreConfig{
		TTL:        24 * time.Hour,
		PutRetries: 2,
		RetryDelay: time.Millisecond,
		OpTimeout:  200 * time.Millisecond,
	}, NewMetricsService(), nil)
	store.now = clock.Now
	return store, clock
}

func testSnapshot() *models.DatasetSnapshot {
	return &models.DatasetSnapshot{Period: "2025-09", Columns: models.DefaultColumns, Rows: sampleRows()}
}

func TestSnapshotStorePutThenGet(t *testing.T) {
	backend := newSnapshotBackendStub()
	store, _ := newTestStore(backend)

	fp, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)
	require.Equal(t, Fingerprint(models.DefaultColumns, sampleRows(), 50), fp)

	got, err := store.Get(context.Background(), fp)
	require.NoError(t, err)
	require.Equal(t, fp, got.Fingerprint)
	require.Equal(t, sampleRows(), got.Rows)
	require.Equal(t, got.CreatedAt.Add(24*time.Hour), got.ExpiresAt)
	require.Contains(t, backend.items, fp)
}

func TestSnapshotStoreGetReturnsCopies(t *testing.T) {
	store, _ := newTestStore(nil)
	fp, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)

	got, err := store.Get(context.Background(), fp)
	require.NoError(t, err)
	got.Rows[0].OrderID = "mutated"

	again, err := store.Get(context.Background(), fp)
	require.NoError(t, err)
	require.Equal(t, "4500001", again.Rows[0].OrderID)
}

func TestSnapshotStoreExpiry(t *testing.T) {
	backend := newSnapshotBackendStub()
	store, clock := newTestStore(backend)
	fp, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	_, err = store.Get(context.Background(), fp)
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
	require.Equal(t, 0, store.Len())
	require.Contains(t, backend.deleted, fp)
}

func TestSnapshotStoreGetMissing(t *testing.T) {
	store, _ := newTestStore(newSnapshotBackendStub())
	_, err := store.Get(context.Background(), "unknown")
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
}

func TestSnapshotStoreGetFallsBackToBackend(t *testing.T) {
	backend := newSnapshotBackendStub()
	writer, _ := newTestStore(backend)
	fp, err := writer.Put(context.Background(), testSnapshot())
	require.NoError(t, err)

	reader, _ := newTestStore(backend)
	got, err := reader.Get(context.Background(), fp)
	require.NoError(t, err)
	require.Equal(t, fp, got.Fingerprint)
	require.Equal(t, 1, reader.Len())
}

func TestSnapshotStorePutDegradedKeepsServing(t *testing.T) {
	backend := newSnapshotBackendStub()
	backend.saveErr = errors.New("disk full")
	store, _ := newTestStore(backend)

	fp, err := store.Put(context.Background(), testSnapshot())
	require.ErrorIs(t, err, appErrors.ErrStorageDegraded)
	require.NotEmpty(t, fp)
	require.Equal(t, 3, backend.saveCalls)

	got, err := store.Get(context.Background(), fp)
	require.NoError(t, err)
	require.Equal(t, fp, got.Fingerprint)
}

func TestSnapshotStorePutHonoursDeadline(t *testing.T) {
	backend := newSnapshotBackendStub()
	backend.block = true
	store, _ := newTestStore(backend)

	start := time.Now()
	_, err := store.Put(context.Background(), testSnapshot())
	require.ErrorIs(t, err, appErrors.ErrStorageDegraded)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSnapshotStoreBackendReadFailureIsNotFound(t *testing.T) {
	backend := newSnapshotBackendStub()
	backend.loadErr = errors.New("connection reset")
	store, _ := newTestStore(backend)

	_, err := store.Get(context.Background(), "abc")
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
	_, err = store.GetLatest(context.Background())
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
}

func TestSnapshotStoreGetLatest(t *testing.T) {
	store, clock := newTestStore(nil)
	_, err := store.GetLatest(context.Background())
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)

	_, err = store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)
	clock.Advance(time.Hour)

	second := testSnapshot()
	second.Rows = second.Rows[:1]
	fp2, err := store.Put(context.Background(), second)
	require.NoError(t, err)

	latest, err := store.GetLatest(context.Background())
	require.NoError(t, err)
	require.Equal(t, fp2, latest.Fingerprint)
}

func TestSnapshotStoreGetLatestPrefersNewerDurableSnapshot(t *testing.T) {
	backend := newSnapshotBackendStub()
	writer, clock := newTestStore(backend)
	fpOld, err := writer.Put(context.Background(), testSnapshot())
	require.NoError(t, err)
	clock.Advance(time.Hour)
	newer := testSnapshot()
	newer.Rows = newer.Rows[:1]
	fpNew, err := writer.Put(context.Background(), newer)
	require.NoError(t, err)

	restarted, _ := newTestStore(backend)
	restarted.now = clock.Now
	_, err = restarted.Get(context.Background(), fpOld)
	require.NoError(t, err)

	latest, err := restarted.GetLatest(context.Background())
	require.NoError(t, err)
	require.Equal(t, fpNew, latest.Fingerprint)
	require.Equal(t, 2, restarted.Len())
}

func TestSnapshotStoreGetLatestBackendFailureUsesMirror(t *testing.T) {
	backend := newSnapshotBackendStub()
	store, _ := newTestStore(backend)
	fp, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)

	backend.mu.Lock()
	backend.loadErr = errors.New("connection refused")
	backend.mu.Unlock()

	latest, err := store.GetLatest(context.Background())
	require.NoError(t, err)
	require.Equal(t, fp, latest.Fingerprint)
}

func TestSnapshotStoreGetLatestKeepsUnpersistedNewerSnapshot(t *testing.T) {
	backend := newSnapshotBackendStub()
	store, clock := newTestStore(backend)
	_, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)
	clock.Advance(time.Hour)

	backend.mu.Lock()
	backend.saveErr = errors.New("disk full")
	backend.mu.Unlock()
	newer := testSnapshot()
	newer.Rows = newer.Rows[:1]
	fpNew, err := store.Put(context.Background(), newer)
	require.ErrorIs(t, err, appErrors.ErrStorageDegraded)

	latest, err := store.GetLatest(context.Background())
	require.NoError(t, err)
	require.Equal(t, fpNew, latest.Fingerprint)
}

func TestSnapshotStoreInvalidate(t *testing.T) {
	backend := newSnapshotBackendStub()
	store, _ := newTestStore(backend)
	fp, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)

	require.NoError(t, store.Invalidate(context.Background(), fp))
	_, err = store.Get(context.Background(), fp)
	require.ErrorIs(t, err, appErrors.ErrSnapshotNotFound)
	require.NotContains(t, backend.items, fp)
}

func TestSnapshotStoreSweep(t *testing.T) {
	store, clock := newTestStore(nil)
	_, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)

	removed, err := store.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, store.Len())
}

func TestSnapshotStoreConcurrentAccess(t *testing.T) {
	store, _ := newTestStore(newSnapshotBackendStub())
	fp, err := store.Put(context.Background(), testSnapshot())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Get(context.Background(), fp)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Put(context.Background(), testSnapshot())
		}()
	}
	wg.Wait()

	got, err := store.Get(context.Background(), fp)
	require.NoError(t, err)
	require.Equal(t, fp, got.Fingerprint)
}
