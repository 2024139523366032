package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/portfolio-review-api/internal/dto"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	"github.com/noah-isme/portfolio-review-api/internal/service"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

type fakeReportSrv struct {
	actor    string
	request  dto.ReportRequest
	path     string
	format   models.ReportFormat
	status   *dto.ReportStatusResponse
	download error
}

func (f *fakeReportSrv) CreateJob(_ context.Context, req dto.ReportRequest, actorID string) (*dto.ReportJobResponse, error) {
	f.request = req
	f.actor = actorID
	return &dto.ReportJobResponse{ID: "job-1", Status: models.ReportStatusQueued}, nil
}

func (f *fakeReportSrv) GetStatus(_ context.Context, id string) (*dto.ReportStatusResponse, error) {
	if f.status == nil || f.status.ID != id {
		return nil, appErrors.ErrNotFound
	}
	return f.status, nil
}

func (f *fakeReportSrv) ResolveDownload(context.Context, string) (*service.ReportDownload, error) {
	if f.download != nil {
		return nil, f.download
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	return &service.ReportDownload{File: file, Filename: filepath.Base(f.path), Format: f.format}, nil
}

func TestReportHandlerGenerate(t *testing.T) {
	srv := &fakeReportSrv{}
	h := NewReportHandler(srv)

	body := mustJSON(t, dto.ReportRequest{Type: models.ReportTypeCompletion, Format: models.ReportFormatCSV, Period: "2025-09"})
	c, rec := newTestContext(http.MethodPost, "/admin/reports", body)
	withAdmin(c)
	h.Generate(c)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "admin", srv.actor)
	assert.Equal(t, models.ReportTypeCompletion, srv.request.Type)
}

func TestReportHandlerStatus(t *testing.T) {
	h := NewReportHandler(&fakeReportSrv{status: &dto.ReportStatusResponse{ID: "job-1", Status: models.ReportStatusFinished}})

	c, rec := newTestContext(http.MethodGet, "/admin/reports/job-1", nil)
	c.Params = append(c.Params, ginParam("id", "job-1"))
	h.Status(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/admin/reports/job-2", nil)
	c.Params = append(c.Params, ginParam("id", "job-2"))
	h.Status(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "completion-job-1.csv")
	require.NoError(t, os.WriteFile(path, []byte("Scope;Name\noverall;TOTAL\n"), 0o600))
	h := NewReportHandler(&fakeReportSrv{path: path, format: models.ReportFormatCSV})

	c, rec := newTestContext(http.MethodGet, "/export/token", nil)
	c.Params = append(c.Params, ginParam("token", "token"))
	h.Download(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "completion-job-1.csv")
	assert.Equal(t, "Scope;Name\noverall;TOTAL\n", rec.Body.String())
}

func TestReportHandlerDownloadForbidden(t *testing.T) {
	h := NewReportHandler(&fakeReportSrv{download: appErrors.ErrForbidden})

	c, rec := newTestContext(http.MethodGet, "/export/", nil)
	h.Download(c)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/export/forged", nil)
	c.Params = append(c.Params, ginParam("token", "forged"))
	h.Download(c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
