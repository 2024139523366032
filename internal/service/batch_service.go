package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/portfolio-review-api/internal/dto"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

// Batch intake outcomes reported to metrics.
const (
	BatchAccepted  = "accepted"
	BatchDuplicate = "duplicate"
	BatchRejected  = "rejected"
)

// batchNamespace scopes content-derived batch ids.
var batchNamespace = uuid.MustParse("6f1c55a2-6c1e-4b7a-9d0f-2f3b8e4d9a10")

// BatchRepository persists submitted batches.
type BatchRepository interface {
	// Create stores the batch unless a batch with the same id exists, in which
	// case it reports created=false.
	Create(ctx context.Context, batch models.Batch) (bool, error)
	ListByPeriod(ctx context.Context, period string) ([]models.Batch, error)
}

type batchAuthorizer interface {
	Authorize(req models.AccessRequest) error
}

// BatchService accepts reviewer batches authenticated by capability token.
type BatchService struct {
	repo    BatchRepository
	access  batchAuthorizer
	metrics *MetricsService
	logger  *zap.Logger
}

// NewBatchService constructs the intake service.
func NewBatchService(repo BatchRepository, access batchAuthorizer, metrics *MetricsService, logger *zap.Logger) *BatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchService{repo: repo, access: access, metrics: metrics, logger: logger}
}

// BatchID derives the content id of a batch. Resubmitting the same export
// yields the same id.
func BatchID(batch models.Batch) (string, error) {
	batch.ID = ""
	payload, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}
	return uuid.NewSHA1(batchNamespace, payload).String(), nil
}

// Submit verifies the access link that accompanies the batch and stores it.
func (s *BatchService) Submit(ctx context.Context, req models.AccessRequest, batch models.Batch) (*dto.BatchReceipt, error) {
	if err := s.access.Authorize(req); err != nil {
		s.metrics.RecordBatch(BatchRejected)
		return nil, err
	}
	if err := NormalizeBatch(&batch); err != nil {
		s.metrics.RecordBatch(BatchRejected)
		return nil, err
	}
	if batch.ReviewerID != req.ReviewerID {
		s.metrics.RecordBatch(BatchRejected)
		s.logger.Warn("batch reviewer mismatch",
			zap.String("reviewer_id", req.ReviewerID),
			zap.String("batch_reviewer_id", batch.ReviewerID),
		)
		return nil, appErrors.ErrAccessUnavailable
	}
	period := req.Period.String()
	if batch.Period == "" {
		batch.Period = period
	} else if batch.Period != period {
		s.metrics.RecordBatch(BatchRejected)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("batch period %s does not match link period %s", batch.Period, period))
	}

	id, err := BatchID(batch)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "batch cannot be encoded")
	}
	batch.ID = id

	created, err := s.repo.Create(ctx, batch)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store batch")
	}
	outcome := BatchAccepted
	if !created {
		outcome = BatchDuplicate
	}
	s.metrics.RecordBatch(outcome)
	s.logger.Info("batch received",
		zap.String("batch_id", id),
		zap.String("reviewer_id", batch.ReviewerID),
		zap.String("period", batch.Period),
		zap.Int("records", len(batch.Records)),
		zap.Bool("duplicate", !created),
	)
	return &dto.BatchReceipt{ID: id, Records: len(batch.Records), Duplicate: !created}, nil
}

// List summarises the batches stored for period, oldest export first.
func (s *BatchService) List(ctx context.Context, period string) ([]dto.BatchSummary, error) {
	if _, err := models.ParseReviewPeriod(period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "period must be YYYY-MM")
	}
	batches, err := s.repo.ListByPeriod(ctx, period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}
	batches = SortBatches(batches)
	out := make([]dto.BatchSummary, 0, len(batches))
	for _, b := range batches {
		out = append(out, dto.BatchSummary{
			ID:          b.ID,
			ReviewerID:  b.ReviewerID,
			Period:      b.Period,
			Fingerprint: b.Fingerprint,
			ExportedAt:  b.ExportedAt.UTC().Format(time.RFC3339),
			Records:     len(b.Records),
		})
	}
	return out, nil
}
