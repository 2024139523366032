package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

// Ledger holds one reviewer's pending decisions for one snapshot. It keeps
// only the latest record per key and is owned by a single reviewer session;
// it is not safe for concurrent use.
type Ledger struct {
	reviewerID  string
	fingerprint string
	period      string
	visible     models.KeySet
	records     map[models.OrderLineKey]models.RevisionRecord

	validator *validator.Validate
	now       func() time.Time
}

// LedgerOption customises a ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the reviewer clock.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithLedgerValidator shares a validator instance.
func WithLedgerValidator(v *validator.Validate) LedgerOption {
	return func(l *Ledger) {
		if v != nil {
			l.validator = v
		}
	}
}

// NewLedger opens an empty ledger for reviewerID. The reviewable keys are the
// snapshot rows assigned to that reviewer.
func NewLedger(reviewerID string, snapshot *models.DatasetSnapshot, opts ...LedgerOption) (*Ledger, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reviewer id is required")
	}
	if snapshot == nil || snapshot.Fingerprint == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ledger requires a stored snapshot")
	}
	l := &Ledger{
		reviewerID:  reviewerID,
		fingerprint: snapshot.Fingerprint,
		period:      snapshot.Period,
		visible:     snapshot.KeysFor(reviewerID),
		records:     make(map[models.OrderLineKey]models.RevisionRecord),
		validator:   validator.New(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ReviewerID returns the ledger owner.
func (l *Ledger) ReviewerID() string { return l.reviewerID }

// Fingerprint returns the snapshot the ledger was opened against.
func (l *Ledger) Fingerprint() string { return l.fingerprint }

// Record validates input and stores a new record for its key, replacing any
// earlier decision. Rejected input leaves the ledger untouched.
func (l *Ledger) Record(input models.RecordInput) (*models.RevisionRecord, error) {
	if err := l.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, describeValidation(err))
	}

	key := models.NewOrderLineKey(input.OrderID, input.MaterialID)
	if !l.visible.Has(key) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("order line %s is not assigned to reviewer %s", key, l.reviewerID))
	}

	now := l.now().UTC()
	record := models.RevisionRecord{
		Key:           key,
		ReviewerID:    l.reviewerID,
		DecidedAt:     now,
		Action:        input.Action,
		Justification: strings.TrimSpace(input.Justification),
	}
	if input.Action == models.ActionRescheduled {
		due, err := models.ParseDate(input.NewDueDate)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "newDueDate must be a valid date")
		}
		if due.Before(models.NewDate(l.now()).Time) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("newDueDate %s is in the past", due))
		}
		record.NewDueDate = &due
	}
	if err := record.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	l.records[key] = record
	out := record
	return &out, nil
}

// Lookup returns the pending decision for key.
func (l *Ledger) Lookup(key models.OrderLineKey) (models.RevisionRecord, bool) {
	record, ok := l.records[key]
	return record, ok
}

// Export snapshots the ledger into a batch. The ledger is not cleared, and
// exporting twice without writes yields identical records.
func (l *Ledger) Export() models.Batch {
	records := make(map[models.OrderLineKey]models.RevisionRecord, len(l.records))
	for key, record := range l.records {
		records[key] = record
	}
	return models.Batch{
		Version:     models.BatchVersion,
		ReviewerID:  l.reviewerID,
		Period:      l.period,
		Fingerprint: l.fingerprint,
		ExportedAt:  l.now().UTC(),
		Records:     records,
	}
}

// Progress reports decided keys against the keys visible to the reviewer.
func (l *Ledger) Progress() (decided, total int) {
	return len(l.records), len(l.visible)
}

// Pending lists visible keys without a decision, in key order.
func (l *Ledger) Pending() []models.OrderLineKey {
	pending := make([]models.OrderLineKey, 0, len(l.visible)-len(l.records))
	for key := range l.visible {
		if _, ok := l.records[key]; !ok {
			pending = append(pending, key)
		}
	}
	return models.SortKeys(pending)
}

// Restore rehydrates the ledger from a batch previously exported by the same
// reviewer against the same snapshot. The batch replaces current records only
// if every record is valid.
func (l *Ledger) Restore(batch models.Batch) error {
	if batch.ReviewerID != l.reviewerID {
		return appErrors.Clone(appErrors.ErrValidation, "batch belongs to another reviewer")
	}
	if batch.Fingerprint != l.fingerprint {
		return appErrors.Clone(appErrors.ErrValidation, "batch was produced against another snapshot")
	}
	restored := make(map[models.OrderLineKey]models.RevisionRecord, len(batch.Records))
	for key, record := range batch.Records {
		if record.Key != key || record.ReviewerID != l.reviewerID {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("record %s does not match its batch", key))
		}
		if err := record.Validate(); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("record %s: %v", key, err))
		}
		if !l.visible.Has(key) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("order line %s is not assigned to reviewer %s", key, l.reviewerID))
		}
		restored[key] = record
	}
	l.records = restored
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid revision input"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_if":
		return fmt.Sprintf("%s is required when action is %s", fe.Field(), models.ActionRescheduled)
	case "excluded_if":
		return fmt.Sprintf("%s must be empty when action is %s", fe.Field(), models.ActionConfirmed)
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "excludesall":
		return fmt.Sprintf("%s must not contain '|'", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}
