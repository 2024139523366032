package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

// CanonicalRepository persists the canonical map and the run history.
type CanonicalRepository interface {
	// Load returns the canonical map for period, empty when none was saved.
	Load(ctx context.Context, period string) (models.CanonicalRevisionMap, error)
	Save(ctx context.Context, canonical models.CanonicalRevisionMap) error
	SaveRun(ctx context.Context, run models.ConsolidationRun) error
	// LatestRun returns the most recent run for period or ErrNotFound.
	LatestRun(ctx context.Context, period string) (*models.ConsolidationRun, error)
}

type batchLister interface {
	ListByPeriod(ctx context.Context, period string) ([]models.Batch, error)
}

// ConsolidationService runs the merge against persisted state. Runs are
// serialised; two administrators triggering at once produce two ordered runs.
type ConsolidationService struct {
	mu        sync.Mutex
	canonical CanonicalRepository
	batches   batchLister
	snapshots snapshotReader
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewConsolidationService constructs the service.
func NewConsolidationService(canonical CanonicalRepository, batches batchLister, snapshots snapshotReader, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *ConsolidationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsolidationService{
		canonical: canonical,
		batches:   batches,
		snapshots: snapshots,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Run folds every batch stored for period into the canonical map. When
// fingerprint is empty the latest snapshot is the base. Without a base
// snapshot the merge still runs, with stale detection disabled.
func (s *ConsolidationService) Run(ctx context.Context, period, fingerprint, runBy string) (*models.ConsolidationRun, error) {
	if _, err := models.ParseReviewPeriod(period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "period must be YYYY-MM")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.now()

	base, err := s.base(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	existing, err := s.canonical.Load(ctx, period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load canonical revisions")
	}
	if existing.Records == nil {
		existing = models.NewCanonicalRevisionMap(period)
	}
	existing.Period = period

	batches, err := s.batches.ListByPeriod(ctx, period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batches")
	}

	canonical, report := Consolidate(existing, SortBatches(batches), base)

	if err := s.canonical.Save(ctx, canonical); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save canonical revisions")
	}
	run := models.ConsolidationRun{
		ID:          uuid.NewString(),
		Period:      period,
		Fingerprint: base.Fingerprint,
		RunBy:       runBy,
		CreatedAt:   s.now().UTC(),
		Report:      report,
	}
	if err := s.canonical.SaveRun(ctx, run); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record consolidation run")
	}

	if err := s.cache.Invalidate(ctx, ProjectionCachePattern(period)); err != nil {
		s.logger.Warn("projection cache not invalidated", zap.String("period", period), zap.Error(err))
	}
	s.metrics.RecordConsolidation(report.Totals.Applied, report.Totals.Conflicts, report.Totals.Stale, s.now().Sub(start))

	for _, c := range report.Conflicts {
		s.logger.Info("revision conflict",
			zap.String("key", c.Key.String()),
			zap.String("winner", c.Winner.ReviewerID),
			zap.String("loser", c.Loser.ReviewerID),
		)
	}
	s.logger.Info("consolidation finished",
		zap.String("run_id", run.ID),
		zap.String("period", period),
		zap.Int("batches", report.Totals.Batches),
		zap.Int("applied", report.Totals.Applied),
		zap.Int("conflicts", report.Totals.Conflicts),
		zap.Int("stale", report.Totals.Stale),
	)
	return &run, nil
}

// Canonical returns the persisted canonical map for period.
func (s *ConsolidationService) Canonical(ctx context.Context, period string) (models.CanonicalRevisionMap, error) {
	if _, err := models.ParseReviewPeriod(period); err != nil {
		return models.CanonicalRevisionMap{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "period must be YYYY-MM")
	}
	canonical, err := s.canonical.Load(ctx, period)
	if err != nil {
		return models.CanonicalRevisionMap{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load canonical revisions")
	}
	if canonical.Records == nil {
		canonical = models.NewCanonicalRevisionMap(period)
	}
	return canonical, nil
}

func (s *ConsolidationService) base(ctx context.Context, fingerprint string) (ConsolidationBase, error) {
	if s.snapshots == nil {
		return ConsolidationBase{Fingerprint: fingerprint}, nil
	}
	var (
		snapshot *models.DatasetSnapshot
		err      error
	)
	if fingerprint == "" {
		snapshot, err = s.snapshots.GetLatest(ctx)
	} else {
		snapshot, err = s.snapshots.Get(ctx, fingerprint)
	}
	if err != nil {
		if errors.Is(err, appErrors.ErrSnapshotNotFound) {
			s.logger.Warn("base snapshot unavailable, stale detection disabled", zap.String("fingerprint", fingerprint))
			return ConsolidationBase{Fingerprint: fingerprint}, nil
		}
		return ConsolidationBase{}, err
	}
	return BaseFromSnapshot(snapshot), nil
}
