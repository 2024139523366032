package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

// SnapshotBackend is the durable storage behind the snapshot store. Load and
// Latest return appErrors.ErrSnapshotNotFound when nothing is stored.
type SnapshotBackend interface {
	Save(ctx context.Context, snapshot *models.DatasetSnapshot) error
	Load(ctx context.Context, fingerprint string) (*models.DatasetSnapshot, error)
	Latest(ctx context.Context) (*models.DatasetSnapshot, error)
	Delete(ctx context.Context, fingerprint string) error
}

// expiredSweeper is implemented by backends able to purge expired entries in bulk.
type expiredSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SnapshotStoreConfig tunes expiry, hashing and durable write behaviour.
type SnapshotStoreConfig struct {
	TTL        time.Duration
	SampleRows int
	PutRetries int
	RetryDelay time.Duration
	OpTimeout  time.Duration
}

// SnapshotStore is a content-addressed, expiring store of dataset snapshots.
// An in-memory mirror serves reads; the backend provides durability. The
// mirror keeps serving when the backend fails.
type SnapshotStore struct {
	backend SnapshotBackend
	cfg     SnapshotStoreConfig
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time

	mu         sync.RWMutex
	mirror     map[string]*models.DatasetSnapshot
	generation uint64
}

// NewSnapshotStore constructs a store. backend may be nil for a memory-only store.
func NewSnapshotStore(backend SnapshotBackend, cfg SnapshotStoreConfig, metrics *MetricsService, logger *zap.Logger) *SnapshotStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = DefaultFingerprintSample
	}
	if cfg.PutRetries < 0 {
		cfg.PutRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{
		backend: backend,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		mirror:  make(map[string]*models.DatasetSnapshot),
	}
}

// TTL returns the configured snapshot lifetime.
func (s *SnapshotStore) TTL() time.Duration {
	return s.cfg.TTL
}

// Put stores snapshot under its computed fingerprint and returns it. When the
// durable write fails the fingerprint is still returned together with an
// ErrStorageDegraded error; the snapshot is served from memory.
func (s *SnapshotStore) Put(ctx context.Context, snapshot *models.DatasetSnapshot) (string, error) {
	if snapshot == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "snapshot is required")
	}
	stored := snapshot.Clone()
	if len(stored.Columns) == 0 {
		stored.Columns = append([]string(nil), models.DefaultColumns...)
	}
	now := s.now().UTC()
	stored.Fingerprint = FingerprintSnapshot(stored, s.cfg.SampleRows)
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(s.cfg.TTL)

	s.mu.Lock()
	s.mirror[stored.Fingerprint] = stored
	size := len(s.mirror)
	s.mu.Unlock()
	s.metrics.SetSnapshotsInMemory(size)

	if s.backend == nil {
		return stored.Fingerprint, nil
	}
	if err := s.persist(ctx, stored); err != nil {
		s.metrics.RecordSnapshotWriteFailure()
		s.logger.Warn("snapshot durable write failed, serving from memory",
			zap.String("fingerprint", stored.Fingerprint), zap.Error(err))
		return stored.Fingerprint, appErrors.WrapAs(err, appErrors.ErrStorageDegraded, "")
	}
	s.logger.Info("snapshot stored",
		zap.String("fingerprint", stored.Fingerprint),
		zap.Int("rows", len(stored.Rows)),
		zap.Time("expires_at", stored.ExpiresAt))
	return stored.Fingerprint, nil
}

func (s *SnapshotStore) persist(ctx context.Context, snapshot *models.DatasetSnapshot) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryDelay
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.PutRetries)), opCtx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.backend.Save(opCtx, snapshot)
		if err != nil {
			s.logger.Debug("snapshot save attempt failed",
				zap.String("fingerprint", snapshot.Fingerprint), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, retry)
}

// Get returns the snapshot stored under fingerprint. Missing, expired and
// unreadable snapshots all yield ErrSnapshotNotFound; partial data is never
// returned.
func (s *SnapshotStore) Get(ctx context.Context, fingerprint string) (*models.DatasetSnapshot, error) {
	now := s.now()

	s.mu.RLock()
	cached, ok := s.mirror[fingerprint]
	generation := s.generation
	s.mu.RUnlock()

	if ok {
		if !cached.Expired(now) {
			s.metrics.RecordSnapshotLookup(LookupHitMemory)
			return cached.Clone(), nil
		}
		s.metrics.RecordSnapshotLookup(LookupExpired)
		s.evictExpired(ctx, cached)
		return nil, notFound(fingerprint)
	}

	if s.backend == nil {
		s.metrics.RecordSnapshotLookup(LookupMiss)
		return nil, notFound(fingerprint)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	loaded, err := s.backend.Load(opCtx, fingerprint)
	cancel()
	if err != nil {
		if errors.Is(err, appErrors.ErrSnapshotNotFound) {
			s.metrics.RecordSnapshotLookup(LookupMiss)
		} else {
			s.metrics.RecordSnapshotLookup(LookupDegraded)
			s.logger.Warn("snapshot backend read failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
		return nil, notFound(fingerprint)
	}
	if loaded.Expired(now) {
		s.metrics.RecordSnapshotLookup(LookupExpired)
		s.evictExpired(ctx, loaded)
		return nil, notFound(fingerprint)
	}

	s.remember(loaded, generation)
	s.metrics.RecordSnapshotLookup(LookupHitBackend)
	return loaded.Clone(), nil
}

// GetLatest returns the most recently created snapshot that has not expired.
// The mirror only holds what this process wrote or read, so the backend is
// consulted on every call and the newer of the two candidates wins. A failing
// backend degrades to the mirror's candidate.
func (s *SnapshotStore) GetLatest(ctx context.Context) (*models.DatasetSnapshot, error) {
	now := s.now()

	s.mu.RLock()
	var latest *models.DatasetSnapshot
	for _, snap := range s.mirror {
		if snap.Expired(now) {
			continue
		}
		if newerSnapshot(snap, latest) {
			latest = snap
		}
	}
	generation := s.generation
	s.mu.RUnlock()

	if s.backend == nil {
		if latest == nil {
			s.metrics.RecordSnapshotLookup(LookupMiss)
			return nil, notFound("")
		}
		s.metrics.RecordSnapshotLookup(LookupHitMemory)
		return latest.Clone(), nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	loaded, err := s.backend.Latest(opCtx)
	cancel()
	switch {
	case err != nil && !errors.Is(err, appErrors.ErrSnapshotNotFound):
		s.metrics.RecordSnapshotLookup(LookupDegraded)
		s.logger.Warn("snapshot backend latest lookup failed", zap.Error(err))
		loaded = nil
	case err != nil:
		loaded = nil
	case loaded.Expired(now):
		s.evictExpired(ctx, loaded)
		loaded = nil
	}

	if loaded != nil && newerSnapshot(loaded, latest) {
		s.remember(loaded, generation)
		s.metrics.RecordSnapshotLookup(LookupHitBackend)
		return loaded.Clone(), nil
	}
	if latest == nil {
		s.metrics.RecordSnapshotLookup(LookupMiss)
		return nil, notFound("")
	}
	s.metrics.RecordSnapshotLookup(LookupHitMemory)
	return latest.Clone(), nil
}

// newerSnapshot orders by creation time, then fingerprint.
func newerSnapshot(candidate, current *models.DatasetSnapshot) bool {
	if current == nil {
		return true
	}
	if candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.Fingerprint > current.Fingerprint
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}

// Invalidate evicts fingerprint from the mirror and the backend.
func (s *SnapshotStore) Invalidate(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	delete(s.mirror, fingerprint)
	s.generation++
	size := len(s.mirror)
	s.mu.Unlock()
	s.metrics.SetSnapshotsInMemory(size)

	if s.backend == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := s.backend.Delete(opCtx, fingerprint); err != nil {
		s.logger.Warn("snapshot backend delete failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return appErrors.WrapAs(err, appErrors.ErrStorageDegraded, "")
	}
	s.logger.Info("snapshot invalidated", zap.String("fingerprint", fingerprint))
	return nil
}

// Sweep drops expired snapshots from the mirror and, when supported, from the
// backend. It returns the number of mirror entries removed.
func (s *SnapshotStore) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for fp, snap := range s.mirror {
		if snap.Expired(now) {
			delete(s.mirror, fp)
			removed++
		}
	}
	size := len(s.mirror)
	s.mu.Unlock()
	s.metrics.SetSnapshotsInMemory(size)

	sweeper, ok := s.backend.(expiredSweeper)
	if !ok {
		return removed, nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	purged, err := sweeper.DeleteExpired(opCtx, now)
	if err != nil {
		return removed, appErrors.WrapAs(err, appErrors.ErrStorageDegraded, "")
	}
	if removed > 0 || purged > 0 {
		s.logger.Info("expired snapshots swept", zap.Int("memory", removed), zap.Int("backend", purged))
	}
	return removed, nil
}

// Len reports the number of snapshots held in memory.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mirror)
}

// remember caches a backend hit unless an invalidation happened since the
// lookup started or a newer Put already filled the slot.
func (s *SnapshotStore) remember(snapshot *models.DatasetSnapshot, generation uint64) {
	s.mu.Lock()
	if s.generation == generation {
		if _, exists := s.mirror[snapshot.Fingerprint]; !exists {
			s.mirror[snapshot.Fingerprint] = snapshot
		}
	}
	size := len(s.mirror)
	s.mu.Unlock()
	s.metrics.SetSnapshotsInMemory(size)
}

func (s *SnapshotStore) evictExpired(ctx context.Context, snapshot *models.DatasetSnapshot) {
	s.mu.Lock()
	if current, ok := s.mirror[snapshot.Fingerprint]; ok && current.Expired(s.now()) {
		delete(s.mirror, snapshot.Fingerprint)
	}
	s.mu.Unlock()

	if s.backend == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := s.backend.Delete(opCtx, snapshot.Fingerprint); err != nil {
		s.logger.Debug("expired snapshot delete failed", zap.String("fingerprint", snapshot.Fingerprint), zap.Error(err))
	}
}

func notFound(fingerprint string) error {
	if fingerprint == "" {
		return appErrors.Clone(appErrors.ErrSnapshotNotFound, "no current snapshot")
	}
	return appErrors.Clone(appErrors.ErrSnapshotNotFound, fmt.Sprintf("snapshot %s not found or expired", fingerprint))
}
