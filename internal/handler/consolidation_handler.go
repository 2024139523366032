package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/portfolio-review-api/internal/dto"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
	"github.com/noah-isme/portfolio-review-api/pkg/response"
)

type consolidationService interface {
	Run(ctx context.Context, period, fingerprint, runBy string) (*models.ConsolidationRun, error)
	Canonical(ctx context.Context, period string) (models.CanonicalRevisionMap, error)
}

// ConsolidationHandler triggers merges and exposes the canonical map.
type ConsolidationHandler struct {
	service consolidationService
}

// NewConsolidationHandler constructs the handler.
func NewConsolidationHandler(svc consolidationService) *ConsolidationHandler {
	return &ConsolidationHandler{service: svc}
}

// Run godoc
// @Summary Consolidate submitted batches
// @Description Folds every stored batch of the period into the canonical map and returns the conflict report
// @Tags Consolidation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ConsolidationRequest true "Consolidation request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/consolidations [post]
func (h *ConsolidationHandler) Run(c *gin.Context) {
	var req dto.ConsolidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid consolidation payload"))
		return
	}
	run, err := h.service.Run(c.Request.Context(), strings.TrimSpace(req.Period), strings.TrimSpace(req.Fingerprint), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, map[string]interface{}{
		"conflicts": run.Report.Totals.Conflicts,
		"stale":     run.Report.Totals.Stale,
	})
}

// Canonical godoc
// @Summary Canonical revisions of a period
// @Tags Consolidation
// @Produce json
// @Security BearerAuth
// @Param period query string true "Review period YYYY-MM"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/canonical [get]
func (h *ConsolidationHandler) Canonical(c *gin.Context) {
	period := strings.TrimSpace(c.Query("period"))
	if period == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "period is required"))
		return
	}
	canonical, err := h.service.Canonical(c.Request.Context(), period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, canonical, map[string]interface{}{"records": len(canonical.Records)})
}
