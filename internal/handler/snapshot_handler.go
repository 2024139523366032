package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/portfolio-review-api/internal/dto"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
	"github.com/noah-isme/portfolio-review-api/pkg/response"
)

type snapshotStore interface {
	Put(ctx context.Context, snapshot *models.DatasetSnapshot) (string, error)
	Get(ctx context.Context, fingerprint string) (*models.DatasetSnapshot, error)
	GetLatest(ctx context.Context) (*models.DatasetSnapshot, error)
	Invalidate(ctx context.Context, fingerprint string) error
}

// SnapshotHandler lets administrators manage working datasets.
type SnapshotHandler struct {
	store    snapshotStore
	validate *validator.Validate
}

// NewSnapshotHandler constructs the handler.
func NewSnapshotHandler(store snapshotStore, validate *validator.Validate) *SnapshotHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &SnapshotHandler{store: store, validate: validate}
}

// Ingest godoc
// @Summary Store a working dataset
// @Description Stores already-parsed rows and returns the content fingerprint. A degraded flag means durable storage failed and the snapshot lives in memory only.
// @Tags Snapshots
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.SnapshotIngestRequest true "Dataset"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/snapshots [post]
func (h *SnapshotHandler) Ingest(c *gin.Context) {
	var req dto.SnapshotIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid snapshot payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid snapshot payload"))
		return
	}
	if _, err := models.ParseReviewPeriod(req.Period); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "period must be YYYY-MM"))
		return
	}

	snapshot := &models.DatasetSnapshot{Period: req.Period, Columns: req.Columns, Rows: req.Rows}
	fingerprint, err := h.store.Put(c.Request.Context(), snapshot)
	degraded := false
	if err != nil {
		if fingerprint == "" || !errors.Is(err, appErrors.ErrStorageDegraded) {
			response.Error(c, err)
			return
		}
		degraded = true
	}
	stored, err := h.store.Get(c.Request.Context(), fingerprint)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.SnapshotIngestResponse{
		Fingerprint: fingerprint,
		Rows:        len(stored.Rows),
		ExpiresAt:   stored.ExpiresAt.UTC().Format(time.RFC3339),
		Degraded:    degraded,
	})
}

// Latest godoc
// @Summary Latest working dataset
// @Tags Snapshots
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/snapshots/latest [get]
func (h *SnapshotHandler) Latest(c *gin.Context) {
	snapshot, err := h.store.GetLatest(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, map[string]interface{}{
		"rows":      len(snapshot.Rows),
		"reviewers": snapshot.Reviewers(),
	})
}

// Invalidate godoc
// @Summary Invalidate a working dataset
// @Tags Snapshots
// @Security BearerAuth
// @Param fingerprint path string true "Snapshot fingerprint"
// @Success 204
// @Failure 503 {object} response.Envelope
// @Router /admin/snapshots/{fingerprint} [delete]
func (h *SnapshotHandler) Invalidate(c *gin.Context) {
	fingerprint := strings.TrimSpace(c.Param("fingerprint"))
	if fingerprint == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "fingerprint is required"))
		return
	}
	if err := h.store.Invalidate(c.Request.Context(), fingerprint); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
