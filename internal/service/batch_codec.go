package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

// legacyBatch is the version 1 export: records keyed by bare order id (or
// "order|material"), with free-form status values.
type legacyBatch struct {
	ReviewerID  string                  `json:"reviewer"`
	GC          string                  `json:"gc"`
	Fingerprint string                  `json:"fingerprint"`
	Period      string                  `json:"period"`
	ExportedAt  string                  `json:"exported_at"`
	Revisions   map[string]legacyRecord `json:"revisions"`
}

type legacyRecord struct {
	Status        string `json:"status"`
	NewDate       string `json:"new_date"`
	Justification string `json:"justification"`
	Justificativa string `json:"justificativa"`
	Timestamp     string `json:"timestamp"`
}

var legacyActions = map[string]models.Action{
	"confirmado":   models.ActionConfirmed,
	"confirmed":    models.ActionConfirmed,
	"reprogramado": models.ActionRescheduled,
	"rescheduled":  models.ActionRescheduled,
}

// DecodeBatch parses an exported batch, migrating version 1 payloads into
// the current shape, and validates every record.
func DecodeBatch(data []byte) (models.Batch, error) {
	var envelope struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return models.Batch{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "batch is not valid JSON")
	}

	var (
		batch models.Batch
		err   error
	)
	if envelope.Version >= models.BatchVersion {
		if err := json.Unmarshal(data, &batch); err != nil {
			return models.Batch{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
		}
	} else {
		batch, err = decodeLegacyBatch(data)
		if err != nil {
			return models.Batch{}, err
		}
	}
	if err := NormalizeBatch(&batch); err != nil {
		return models.Batch{}, err
	}
	return batch, nil
}

// NormalizeBatch fills record keys and reviewer ids from the envelope and
// validates the batch. It is applied to every batch entering the system.
func NormalizeBatch(batch *models.Batch) error {
	batch.ReviewerID = strings.TrimSpace(batch.ReviewerID)
	if batch.ReviewerID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "batch reviewerId is required")
	}
	if batch.Fingerprint == "" {
		return appErrors.Clone(appErrors.ErrValidation, "batch fingerprint is required")
	}
	if batch.ExportedAt.IsZero() {
		return appErrors.Clone(appErrors.ErrValidation, "batch exportedAt is required")
	}
	batch.Version = models.BatchVersion
	batch.ExportedAt = batch.ExportedAt.UTC()
	if batch.Records == nil {
		batch.Records = map[models.OrderLineKey]models.RevisionRecord{}
	}
	for key, record := range batch.Records {
		if record.Key == (models.OrderLineKey{}) {
			record.Key = key
		}
		if record.ReviewerID == "" {
			record.ReviewerID = batch.ReviewerID
		}
		if record.Key != key {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("record key %s does not match map key %s", record.Key, key))
		}
		if record.ReviewerID != batch.ReviewerID {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("record %s belongs to reviewer %s, not %s", key, record.ReviewerID, batch.ReviewerID))
		}
		if err := record.Validate(); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("record %s: %v", key, err))
		}
		record.DecidedAt = record.DecidedAt.UTC()
		batch.Records[key] = record
	}
	return nil
}

func decodeLegacyBatch(data []byte) (models.Batch, error) {
	var legacy legacyBatch
	if err := json.Unmarshal(data, &legacy); err != nil {
		return models.Batch{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid legacy batch payload")
	}
	reviewer := legacy.ReviewerID
	if reviewer == "" {
		reviewer = legacy.GC
	}
	exportedAt, err := parseLegacyTime(legacy.ExportedAt)
	if err != nil {
		return models.Batch{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exported_at")
	}

	batch := models.Batch{
		Version:     models.BatchVersion,
		ReviewerID:  strings.TrimSpace(reviewer),
		Period:      legacy.Period,
		Fingerprint: legacy.Fingerprint,
		ExportedAt:  exportedAt,
		Records:     make(map[models.OrderLineKey]models.RevisionRecord, len(legacy.Revisions)),
	}
	for rawKey, rec := range legacy.Revisions {
		key, err := models.ParseOrderLineKey(rawKey)
		if err != nil {
			return models.Batch{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
		action, ok := legacyActions[strings.ToLower(strings.TrimSpace(rec.Status))]
		if !ok {
			return models.Batch{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("record %s: unknown status %q", rawKey, rec.Status))
		}
		decidedAt := exportedAt
		if rec.Timestamp != "" {
			if decidedAt, err = parseLegacyTime(rec.Timestamp); err != nil {
				return models.Batch{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("record %s: invalid timestamp", rawKey))
			}
		}
		record := models.RevisionRecord{
			Key:           key,
			ReviewerID:    batch.ReviewerID,
			DecidedAt:     decidedAt,
			Action:        action,
			Justification: strings.TrimSpace(firstNonEmpty(rec.Justification, rec.Justificativa)),
		}
		if action == models.ActionRescheduled && strings.TrimSpace(rec.NewDate) != "" {
			due, err := models.ParseDate(rec.NewDate)
			if err != nil {
				return models.Batch{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("record %s: invalid new_date", rawKey))
			}
			record.NewDueDate = &due
		}
		if _, dup := batch.Records[key]; dup {
			return models.Batch{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate record for %s", key))
		}
		batch.Records[key] = record
	}
	return batch, nil
}

func parseLegacyTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "02/01/2006 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
