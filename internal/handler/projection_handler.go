package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/portfolio-review-api/internal/middleware"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
	"github.com/noah-isme/portfolio-review-api/pkg/response"
)

type projectionService interface {
	Get(ctx context.Context, period, fingerprint string) (*models.Projection, bool, error)
}

// ProjectionHandler serves the canonical projection over the dataset.
type ProjectionHandler struct {
	service projectionService
}

// NewProjectionHandler constructs the handler.
func NewProjectionHandler(svc projectionService) *ProjectionHandler {
	return &ProjectionHandler{service: svc}
}

// Get godoc
// @Summary Canonical projection
// @Description Dataset rows with their consolidated status plus completion summaries
// @Tags Projection
// @Produce json
// @Security BearerAuth
// @Param period query string true "Review period YYYY-MM"
// @Param fingerprint query string false "Snapshot fingerprint, latest when empty"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/projection [get]
func (h *ProjectionHandler) Get(c *gin.Context) {
	period := strings.TrimSpace(c.Query("period"))
	if period == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "period is required"))
		return
	}
	projection, cacheHit, err := h.service.Get(c.Request.Context(), period, strings.TrimSpace(c.Query("fingerprint")))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, projection, responseMeta(c))
}
