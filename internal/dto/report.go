package dto

import "github.com/noah-isme/portfolio-review-api/internal/models"

// ReportRequest captures POST /admin/reports payload.
type ReportRequest struct {
	Type        models.ReportType   `json:"type" validate:"required,oneof=projection completion conflicts"`
	Format      models.ReportFormat `json:"format" validate:"required,oneof=csv pdf"`
	Period      string              `json:"period" validate:"required"`
	Fingerprint string              `json:"fingerprint,omitempty"`
	ReviewerID  string              `json:"reviewerId,omitempty"`
}

// ReportJobResponse is returned after enqueueing a report.
type ReportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ReportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ReportStatusResponse exposes job progress metadata.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	Type      models.ReportType   `json:"type"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
