package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/portfolio-review-api/internal/dto"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	"github.com/noah-isme/portfolio-review-api/internal/service"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
	"github.com/noah-isme/portfolio-review-api/pkg/logger"
	"github.com/noah-isme/portfolio-review-api/pkg/response"
)

const maxBatchBytes = 8 << 20

type batchService interface {
	Submit(ctx context.Context, req models.AccessRequest, batch models.Batch) (*dto.BatchReceipt, error)
	List(ctx context.Context, period string) ([]dto.BatchSummary, error)
}

// BatchHandler accepts reviewer batches and lists them for administrators.
type BatchHandler struct {
	service batchService
}

// NewBatchHandler constructs the handler.
func NewBatchHandler(svc batchService) *BatchHandler {
	return &BatchHandler{service: svc}
}

// Submit godoc
// @Summary Submit a reviewer batch
// @Description Accepts an exported ledger (current or legacy format) authenticated by the link token
// @Tags Batches
// @Accept json
// @Produce json
// @Param reviewer query string true "Reviewer id"
// @Param token query string true "Capability token"
// @Param month query int true "Review month"
// @Param year query int true "Review year"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /batches [post]
func (h *BatchHandler) Submit(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBatchBytes+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read batch"))
		return
	}
	if len(raw) > maxBatchBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "batch too large"))
		return
	}
	batch, err := service.DecodeBatch(raw)
	if err != nil {
		response.Error(c, err)
		return
	}
	receipt, err := h.service.Submit(c.Request.Context(), service.ParseAccessRequest(c.Request.URL.Query()), batch)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(logger.ReviewerKey, batch.ReviewerID)
	if receipt.Duplicate {
		response.JSON(c, http.StatusOK, receipt)
		return
	}
	response.Created(c, receipt)
}

// List godoc
// @Summary List submitted batches
// @Tags Batches
// @Produce json
// @Security BearerAuth
// @Param period query string true "Review period YYYY-MM"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/batches [get]
func (h *BatchHandler) List(c *gin.Context) {
	period := strings.TrimSpace(c.Query("period"))
	if period == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "period is required"))
		return
	}
	batches, err := h.service.List(c.Request.Context(), period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, map[string]interface{}{"count": len(batches)})
}
