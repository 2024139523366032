package models

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the minimal ingestion schema.
const (
	ColumnOrderID      = "order_id"
	ColumnMaterialID   = "material_id"
	ColumnReviewerID   = "reviewer_id"
	ColumnBalance      = "balance"
	ColumnQuantity     = "quantity"
	ColumnGroup        = "group"
	ColumnDirectorate  = "directorate"
	ColumnWorkDate     = "work_date"
	ColumnCreditStatus = "credit_status"
)

// DefaultColumns is the schema used when an ingest payload does not declare one.
var DefaultColumns = []string{
	ColumnOrderID,
	ColumnMaterialID,
	ColumnReviewerID,
	ColumnBalance,
	ColumnQuantity,
	ColumnGroup,
	ColumnDirectorate,
	ColumnWorkDate,
	ColumnCreditStatus,
}

// OrderLine is one reviewable row of the working dataset.
type OrderLine struct {
	OrderID      string            `json:"orderId" validate:"required"`
	MaterialID   string            `json:"materialId"`
	ReviewerID   string            `json:"reviewerId" validate:"required"`
	Balance      decimal.Decimal   `json:"balance"`
	Quantity     decimal.Decimal   `json:"quantity"`
	Group        string            `json:"group"`
	Directorate  string            `json:"directorate"`
	WorkDate     *Date             `json:"workDate,omitempty"`
	CreditStatus string            `json:"creditStatus"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Key returns the composite key addressing the line.
func (l OrderLine) Key() OrderLineKey {
	return NewOrderLineKey(l.OrderID, l.MaterialID)
}

// Value renders the named column as text; unknown columns read from Extra.
func (l OrderLine) Value(column string) string {
	switch column {
	case ColumnOrderID:
		return l.OrderID
	case ColumnMaterialID:
		return l.Key().MaterialID
	case ColumnReviewerID:
		return l.ReviewerID
	case ColumnBalance:
		return l.Balance.String()
	case ColumnQuantity:
		return l.Quantity.String()
	case ColumnGroup:
		return l.Group
	case ColumnDirectorate:
		return l.Directorate
	case ColumnWorkDate:
		if l.WorkDate == nil {
			return ""
		}
		return l.WorkDate.String()
	case ColumnCreditStatus:
		return l.CreditStatus
	default:
		return l.Extra[column]
	}
}

// DatasetSnapshot is an immutable copy of the working dataset for one review period.
type DatasetSnapshot struct {
	Fingerprint string      `json:"fingerprint"`
	Period      string      `json:"period,omitempty"`
	Columns     []string    `json:"columns"`
	Rows        []OrderLine `json:"rows"`
	CreatedAt   time.Time   `json:"createdAt"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// Expired reports whether the snapshot is past its expiry at now.
func (s *DatasetSnapshot) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Keys returns the set of order line keys present in the snapshot.
func (s *DatasetSnapshot) Keys() KeySet {
	set := make(KeySet)
	if s == nil {
		return set
	}
	for _, row := range s.Rows {
		set[row.Key()] = struct{}{}
	}
	return set
}

// KeysFor returns the keys assigned to reviewerID.
func (s *DatasetSnapshot) KeysFor(reviewerID string) KeySet {
	set := make(KeySet)
	if s == nil {
		return set
	}
	reviewerID = strings.TrimSpace(reviewerID)
	for _, row := range s.Rows {
		if strings.TrimSpace(row.ReviewerID) == reviewerID {
			set[row.Key()] = struct{}{}
		}
	}
	return set
}

// Reviewers lists the distinct reviewers assigned in the snapshot, sorted.
func (s *DatasetSnapshot) Reviewers() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{})
	result := make([]string, 0)
	for _, row := range s.Rows {
		id := strings.TrimSpace(row.ReviewerID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Clone returns a deep copy so callers never share row slices with the store.
func (s *DatasetSnapshot) Clone() *DatasetSnapshot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Columns = append([]string(nil), s.Columns...)
	clone.Rows = make([]OrderLine, len(s.Rows))
	for i, row := range s.Rows {
		if row.Extra != nil {
			extra := make(map[string]string, len(row.Extra))
			for k, v := range row.Extra {
				extra[k] = v
			}
			row.Extra = extra
		}
		if row.WorkDate != nil {
			d := *row.WorkDate
			row.WorkDate = &d
		}
		clone.Rows[i] = row
	}
	return &clone
}

// KeySet is a set of order line keys.
type KeySet map[OrderLineKey]struct{}

// Has reports membership.
func (k KeySet) Has(key OrderLineKey) bool {
	_, ok := k[key]
	return ok
}

// ForReviewer returns a copy holding only the rows assigned to reviewerID.
// The fingerprint still identifies the full dataset.
func (s *DatasetSnapshot) ForReviewer(reviewerID string) *DatasetSnapshot {
	if s == nil {
		return nil
	}
	clone := s.Clone()
	reviewerID = strings.TrimSpace(reviewerID)
	rows := clone.Rows[:0]
	for _, row := range clone.Rows {
		if strings.TrimSpace(row.ReviewerID) == reviewerID {
			rows = append(rows, row)
		}
	}
	clone.Rows = rows
	return clone
}
