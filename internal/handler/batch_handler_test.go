package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/portfolio-review-api/internal/dto"
	"github.com/noah-isme/portfolio-review-api/internal/models"
)

type fakeBatchSrv struct {
	receipt   *dto.BatchReceipt
	summaries []dto.BatchSummary
	err       error
	submitted models.Batch
	req       models.AccessRequest
}

func (f *fakeBatchSrv) Submit(_ context.Context, req models.AccessRequest, batch models.Batch) (*dto.BatchReceipt, error) {
	f.req = req
	f.submitted = batch
	return f.receipt, f.err
}

func (f *fakeBatchSrv) List(context.Context, string) ([]dto.BatchSummary, error) {
	return f.summaries, f.err
}

const currentBatchJSON = `{
  "version": 2,
  "reviewerId": "GC-01",
  "fingerprint": "fp-1",
  "exportedAt": "2025-09-02T09:00:00Z",
  "records": {
    "4500001|MAT-1": {"decidedAt": "2025-09-02T09:00:00Z", "action": "CONFIRMED"}
  }
}`

func TestBatchHandlerSubmitCreated(t *testing.T) {
	srv := &fakeBatchSrv{receipt: &dto.BatchReceipt{ID: "b-1", Records: 1}}
	h := NewBatchHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/batches?reviewer=GC-01&token=abc&month=9&year=2025", []byte(currentBatchJSON))
	h.Submit(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "GC-01", srv.submitted.ReviewerID)
	assert.Len(t, srv.submitted.Records, 1)
	assert.Equal(t, "abc", srv.req.Token)
}

func TestBatchHandlerSubmitDuplicate(t *testing.T) {
	h := NewBatchHandler(&fakeBatchSrv{receipt: &dto.BatchReceipt{ID: "b-1", Records: 1, Duplicate: true}})

	c, rec := newTestContext(http.MethodPost, "/batches?reviewer=GC-01&token=abc&month=9&year=2025", []byte(currentBatchJSON))
	h.Submit(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBatchHandlerSubmitRejectsMalformed(t *testing.T) {
	srv := &fakeBatchSrv{}
	h := NewBatchHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/batches", []byte(`{"version":2,`))
	h.Submit(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, srv.submitted.ReviewerID)
}

func TestBatchHandlerListRequiresPeriod(t *testing.T) {
	h := NewBatchHandler(&fakeBatchSrv{})

	c, rec := newTestContext(http.MethodGet, "/admin/batches", nil)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h = NewBatchHandler(&fakeBatchSrv{summaries: []dto.BatchSummary{{ID: "b-1"}}})
	c, rec = newTestContext(http.MethodGet, "/admin/batches?period=2025-09", nil)
	h.List(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeEnvelope(t, rec).Meta["count"])
}
