package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NoMaterial stands in for a missing material identifier so keys stay comparable.
const NoMaterial = "NO-MATERIAL"

const keySeparator = "|"

// BatchVersion is the current batch envelope version. Version 1 is the legacy
// shape keyed by bare order ids.
const BatchVersion = 2

// OrderLineKey identifies one reviewable unit.
type OrderLineKey struct {
	OrderID    string
	MaterialID string
}

// NewOrderLineKey normalises identifiers, substituting NoMaterial when the
// material is blank.
func NewOrderLineKey(orderID, materialID string) OrderLineKey {
	orderID = strings.TrimSpace(orderID)
	materialID = strings.TrimSpace(materialID)
	if materialID == "" || strings.EqualFold(materialID, "nan") {
		materialID = NoMaterial
	}
	return OrderLineKey{OrderID: orderID, MaterialID: materialID}
}

// String renders the key in its text form.
func (k OrderLineKey) String() string {
	return k.OrderID + keySeparator + k.MaterialID
}

// Less orders keys by order id, then material id.
func (k OrderLineKey) Less(other OrderLineKey) bool {
	if k.OrderID != other.OrderID {
		return k.OrderID < other.OrderID
	}
	return k.MaterialID < other.MaterialID
}

// Validate rejects keys that cannot round-trip through their text form.
func (k OrderLineKey) Validate() error {
	if k.OrderID == "" {
		return fmt.Errorf("order id is required")
	}
	if strings.Contains(k.OrderID, keySeparator) || strings.Contains(k.MaterialID, keySeparator) {
		return fmt.Errorf("key parts must not contain %q", keySeparator)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (k OrderLineKey) MarshalText() ([]byte, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A bare order id (legacy
// key shape) migrates to the NoMaterial sentinel.
func (k *OrderLineKey) UnmarshalText(text []byte) error {
	key, err := ParseOrderLineKey(string(text))
	if err != nil {
		return err
	}
	*k = key
	return nil
}

// ParseOrderLineKey parses "order|material" or a legacy bare order id.
func ParseOrderLineKey(raw string) (OrderLineKey, error) {
	orderID, materialID, found := strings.Cut(strings.TrimSpace(raw), keySeparator)
	if !found {
		materialID = ""
	}
	key := NewOrderLineKey(orderID, materialID)
	if err := key.Validate(); err != nil {
		return OrderLineKey{}, fmt.Errorf("parse order line key %q: %w", raw, err)
	}
	return key, nil
}

// SortKeys orders keys in place and returns them.
func SortKeys(keys []OrderLineKey) []OrderLineKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Action is the reviewer decision for an order line.
type Action string

const (
	ActionConfirmed   Action = "CONFIRMED"
	ActionRescheduled Action = "RESCHEDULED"
)

// Valid reports whether the action is known.
func (a Action) Valid() bool {
	return a == ActionConfirmed || a == ActionRescheduled
}

const dateLayout = "2006-01-02"

// Date is a civil date serialised as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD and DD/MM/YYYY.
func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{dateLayout, "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return NewDate(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", raw)
}

// String renders YYYY-MM-DD.
func (d Date) String() string {
	return d.Time.Format(dateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RevisionRecord is one reviewer decision for one order line. Records are
// never mutated; a later decision produces a new record.
type RevisionRecord struct {
	Key           OrderLineKey `json:"key"`
	ReviewerID    string       `json:"reviewerId"`
	DecidedAt     time.Time    `json:"decidedAt"`
	Action        Action       `json:"action"`
	NewDueDate    *Date        `json:"newDueDate,omitempty"`
	Justification string       `json:"justification,omitempty"`
}

// Validate enforces the record invariants.
func (r RevisionRecord) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.ReviewerID) == "" {
		return fmt.Errorf("reviewer id is required")
	}
	if r.DecidedAt.IsZero() {
		return fmt.Errorf("decidedAt is required")
	}
	switch r.Action {
	case ActionRescheduled:
		if r.NewDueDate == nil {
			return fmt.Errorf("newDueDate is required when action is %s", ActionRescheduled)
		}
	case ActionConfirmed:
		if r.NewDueDate != nil {
			return fmt.Errorf("newDueDate must be empty when action is %s", ActionConfirmed)
		}
	default:
		return fmt.Errorf("unsupported action %q", r.Action)
	}
	return nil
}

// Supersedes reports whether r wins a conflict against other: the later
// decision wins, ties go to the lexically smaller reviewer id.
func (r RevisionRecord) Supersedes(other RevisionRecord) bool {
	if !r.DecidedAt.Equal(other.DecidedAt) {
		return r.DecidedAt.After(other.DecidedAt)
	}
	return r.ReviewerID < other.ReviewerID
}

// RecordInput is the raw reviewer decision before it becomes a record.
type RecordInput struct {
	OrderID       string `json:"orderId" validate:"required,excludesall=0x7C"`
	MaterialID    string `json:"materialId" validate:"excludesall=0x7C"`
	Action        Action `json:"action" validate:"required,oneof=CONFIRMED RESCHEDULED"`
	NewDueDate    string `json:"newDueDate" validate:"required_if=Action RESCHEDULED,excluded_if=Action CONFIRMED"`
	Justification string `json:"justification" validate:"max=2000"`
}

// Batch is the exported, self-describing snapshot of one reviewer ledger.
type Batch struct {
	ID          string                          `json:"id,omitempty"`
	Version     int                             `json:"version"`
	ReviewerID  string                          `json:"reviewerId"`
	Period      string                          `json:"period,omitempty"`
	Fingerprint string                          `json:"fingerprint"`
	ExportedAt  time.Time                       `json:"exportedAt"`
	Records     map[OrderLineKey]RevisionRecord `json:"records"`
}

// SortedKeys returns the batch keys in deterministic order.
func (b Batch) SortedKeys() []OrderLineKey {
	keys := make([]OrderLineKey, 0, len(b.Records))
	for key := range b.Records {
		keys = append(keys, key)
	}
	return SortKeys(keys)
}
