package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/portfolio-review-api/internal/dto"
	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

type fakeSnapshotStore struct {
	putErr      error
	stored      *models.DatasetSnapshot
	invalidated string
}

func (f *fakeSnapshotStore) Put(_ context.Context, snapshot *models.DatasetSnapshot) (string, error) {
	clone := *snapshot
	clone.Fingerprint = "fp-1"
	clone.ExpiresAt = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	f.stored = &clone
	if f.putErr != nil && !errors.Is(f.putErr, appErrors.ErrStorageDegraded) {
		return "", f.putErr
	}
	return clone.Fingerprint, f.putErr
}

func (f *fakeSnapshotStore) Get(_ context.Context, fingerprint string) (*models.DatasetSnapshot, error) {
	if f.stored == nil || f.stored.Fingerprint != fingerprint {
		return nil, appErrors.ErrSnapshotNotFound
	}
	return f.stored, nil
}

func (f *fakeSnapshotStore) GetLatest(context.Context) (*models.DatasetSnapshot, error) {
	if f.stored == nil {
		return nil, appErrors.ErrSnapshotNotFound
	}
	return f.stored, nil
}

func (f *fakeSnapshotStore) Invalidate(_ context.Context, fingerprint string) error {
	f.invalidated = fingerprint
	return nil
}

func ingestPayload(t *testing.T) []byte {
	return mustJSON(t, dto.SnapshotIngestRequest{
		Period: "2025-09",
		Rows: []models.OrderLine{
			{OrderID: "4500001", MaterialID: "MAT-1", ReviewerID: "GC-01", Balance: decimal.NewFromInt(176200000)},
		},
	})
}

func TestSnapshotHandlerIngest(t *testing.T) {
	store := &fakeSnapshotStore{}
	h := NewSnapshotHandler(store, nil)

	c, rec := newTestContext(http.MethodPost, "/admin/snapshots", ingestPayload(t))
	h.Ingest(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp dto.SnapshotIngestResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
	assert.Equal(t, "fp-1", resp.Fingerprint)
	assert.Equal(t, 1, resp.Rows)
	assert.False(t, resp.Degraded)
	assert.Equal(t, "2025-10-01T00:00:00Z", resp.ExpiresAt)
}

func TestSnapshotHandlerIngestDegraded(t *testing.T) {
	h := NewSnapshotHandler(&fakeSnapshotStore{putErr: appErrors.Clone(appErrors.ErrStorageDegraded, "disk full")}, nil)

	c, rec := newTestContext(http.MethodPost, "/admin/snapshots", ingestPayload(t))
	h.Ingest(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp dto.SnapshotIngestResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
	assert.True(t, resp.Degraded)
}

func TestSnapshotHandlerIngestValidation(t *testing.T) {
	h := NewSnapshotHandler(&fakeSnapshotStore{}, nil)

	c, rec := newTestContext(http.MethodPost, "/admin/snapshots", mustJSON(t, dto.SnapshotIngestRequest{Period: "2025-09"}))
	h.Ingest(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := dto.SnapshotIngestRequest{Period: "September", Rows: []models.OrderLine{{OrderID: "1", ReviewerID: "GC-01"}}}
	c, rec = newTestContext(http.MethodPost, "/admin/snapshots", mustJSON(t, bad))
	h.Ingest(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotHandlerLatestAndInvalidate(t *testing.T) {
	store := &fakeSnapshotStore{}
	h := NewSnapshotHandler(store, nil)

	c, rec := newTestContext(http.MethodGet, "/admin/snapshots/latest", nil)
	h.Latest(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.stored = &models.DatasetSnapshot{Fingerprint: "fp-1", Rows: []models.OrderLine{{OrderID: "1", ReviewerID: "GC-01"}}}
	c, rec = newTestContext(http.MethodGet, "/admin/snapshots/latest", nil)
	h.Latest(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeEnvelope(t, rec).Meta["rows"])

	c, rec = newTestContext(http.MethodDelete, "/admin/snapshots/fp-1", nil)
	c.Params = append(c.Params, ginParam("fingerprint", "fp-1"))
	h.Invalidate(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "fp-1", store.invalidated)
}
