package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/portfolio-review-api/internal/dto"
	"github.com/noah-isme/portfolio-review-api/internal/middleware"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	"github.com/noah-isme/portfolio-review-api/internal/service"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
	"github.com/noah-isme/portfolio-review-api/pkg/logger"
	"github.com/noah-isme/portfolio-review-api/pkg/response"
)

type accessService interface {
	Resolve(ctx context.Context, req models.AccessRequest) (*models.AccessGrant, error)
	IssueLinks(ctx context.Context, period models.ReviewPeriod, fingerprint string, reviewers []string) ([]models.AccessLink, error)
}

// AccessHandler serves reviewer links and the datasets behind them.
type AccessHandler struct {
	service  accessService
	validate *validator.Validate
}

// NewAccessHandler constructs the handler.
func NewAccessHandler(svc accessService, validate *validator.Validate) *AccessHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &AccessHandler{service: svc, validate: validate}
}

// Open godoc
// @Summary Open a reviewer link
// @Description Verifies the capability token and returns the reviewer's dataset
// @Tags Access
// @Produce json
// @Param reviewer query string true "Reviewer id"
// @Param token query string true "Capability token"
// @Param month query int true "Review month"
// @Param year query int true "Review year"
// @Param fingerprint query string false "Snapshot fingerprint"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /access [get]
func (h *AccessHandler) Open(c *gin.Context) {
	req := service.ParseAccessRequest(c.Request.URL.Query())
	grant, err := h.service.Resolve(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(logger.ReviewerKey, grant.ReviewerID)
	middleware.SetMeta(c, "degraded", grant.Degraded)
	response.JSON(c, http.StatusOK, grant, responseMeta(c))
}

// IssueLinks godoc
// @Summary Issue reviewer links
// @Description Issues one capability link per reviewer of the snapshot
// @Tags Access
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.IssueLinksRequest true "Link request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/links [post]
func (h *AccessHandler) IssueLinks(c *gin.Context) {
	var req dto.IssueLinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}
	period, err := models.NewReviewPeriod(req.Month, req.Year)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review period"))
		return
	}
	links, err := h.service.IssueLinks(c.Request.Context(), period, req.Fingerprint, req.Reviewers)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links, map[string]interface{}{"count": len(links)})
}
