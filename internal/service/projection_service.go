package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

// OverallSummaryName labels the all-rows completion summary.
const OverallSummaryName = "TOTAL"

const ungrouped = "(none)"

type canonicalLoader interface {
	Load(ctx context.Context, period string) (models.CanonicalRevisionMap, error)
}

// Project applies the canonical map onto the snapshot rows. Canonical
// records for keys absent from the snapshot are ignored.
func Project(snapshot *models.DatasetSnapshot, canonical models.CanonicalRevisionMap) models.Projection {
	projection := models.Projection{
		Period:     canonical.Period,
		Rows:       make([]models.ProjectionRow, 0),
		ByReviewer: make([]models.CompletionSummary, 0),
		ByGroup:    make([]models.CompletionSummary, 0),
		Overall:    models.CompletionSummary{Name: OverallSummaryName},
	}
	if snapshot == nil {
		return projection
	}
	projection.Fingerprint = snapshot.Fingerprint
	if projection.Period == "" {
		projection.Period = snapshot.Period
	}

	byReviewer := make(map[string]*models.CompletionSummary)
	byGroup := make(map[string]*models.CompletionSummary)
	summaryFor := func(index map[string]*models.CompletionSummary, name string) *models.CompletionSummary {
		if s, ok := index[name]; ok {
			return s
		}
		s := &models.CompletionSummary{Name: name}
		index[name] = s
		return s
	}

	for _, line := range snapshot.Rows {
		row := models.ProjectionRow{Line: line, Status: models.LineStatusPending}
		if record, ok := canonical.Lookup(line.Key()); ok {
			decidedAt := record.DecidedAt
			row.DecidedBy = record.ReviewerID
			row.DecidedAt = &decidedAt
			row.Justification = record.Justification
			switch record.Action {
			case models.ActionConfirmed:
				row.Status = models.LineStatusConfirmed
			case models.ActionRescheduled:
				row.Status = models.LineStatusRescheduled
				if record.NewDueDate != nil {
					due := *record.NewDueDate
					row.NewDueDate = &due
				}
			}
		}
		projection.Rows = append(projection.Rows, row)

		group := strings.TrimSpace(line.Group)
		if group == "" {
			group = ungrouped
		}
		for _, summary := range []*models.CompletionSummary{
			&projection.Overall,
			summaryFor(byReviewer, strings.TrimSpace(line.ReviewerID)),
			summaryFor(byGroup, group),
		} {
			tally(summary, row.Status, line.Balance)
		}
	}

	finish(&projection.Overall)
	projection.ByReviewer = collectSummaries(byReviewer)
	projection.ByGroup = collectSummaries(byGroup)
	return projection
}

func tally(summary *models.CompletionSummary, status models.LineStatus, balance decimal.Decimal) {
	summary.Total++
	summary.Balance = summary.Balance.Add(balance)
	switch status {
	case models.LineStatusConfirmed:
		summary.Confirmed++
	case models.LineStatusRescheduled:
		summary.Rescheduled++
	default:
		summary.Pending++
	}
}

func finish(summary *models.CompletionSummary) {
	if summary.Total == 0 {
		summary.Percentage = 0
		return
	}
	decided := decimal.NewFromInt(int64(summary.Confirmed + summary.Rescheduled))
	summary.Percentage = decided.Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(summary.Total))).
		Round(1).
		InexactFloat64()
}

func collectSummaries(index map[string]*models.CompletionSummary) []models.CompletionSummary {
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.CompletionSummary, 0, len(names))
	for _, name := range names {
		summary := index[name]
		finish(summary)
		out = append(out, *summary)
	}
	return out
}

// ProjectionService serves projections with a read-through cache.
type ProjectionService struct {
	snapshots snapshotReader
	canonical canonicalLoader
	cache     *CacheService
	cacheTTL  time.Duration
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewProjectionService constructs the projection service.
func NewProjectionService(snapshots snapshotReader, canonical canonicalLoader, cache *CacheService, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *ProjectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectionService{
		snapshots: snapshots,
		canonical: canonical,
		cache:     cache,
		cacheTTL:  cacheTTL,
		metrics:   metrics,
		logger:    logger,
	}
}

// Get returns the projection of period over the snapshot identified by
// fingerprint, or over the latest snapshot when fingerprint is empty. The
// boolean reports a cache hit.
func (s *ProjectionService) Get(ctx context.Context, period, fingerprint string) (*models.Projection, bool, error) {
	if _, err := models.ParseReviewPeriod(period); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "period must be YYYY-MM")
	}

	snapshot, err := s.snapshot(ctx, fingerprint)
	if err != nil {
		return nil, false, err
	}

	cacheKey := ProjectionCacheKey(period, snapshot.Fingerprint)
	var cached models.Projection
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
		s.logger.Warn("projection cache read failed", zap.String("key", cacheKey), zap.Error(err))
	} else if hit {
		return &cached, true, nil
	}

	start := time.Now()
	canonical, err := s.canonical.Load(ctx, period)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load canonical revisions")
	}
	s.metrics.ObserveDBQuery("canonical_load", time.Since(start))
	canonical.Period = period

	projection := Project(snapshot, canonical)
	if err := s.cache.Set(ctx, cacheKey, projection, s.cacheTTL); err != nil {
		s.logger.Warn("projection cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return &projection, false, nil
}

func (s *ProjectionService) snapshot(ctx context.Context, fingerprint string) (*models.DatasetSnapshot, error) {
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
			return nil, appErrors.WrapAs(err, appErrors.ErrDatasetUnavailable, "")
		}
		return nil, err
	}
	return snapshot, nil
}
