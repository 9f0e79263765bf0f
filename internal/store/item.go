package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a history item by the task category that produced it.
type Kind string

const (
	// KindTap is a finger-tapping test result (read-only once merged).
	KindTap Kind = "tap"
	// KindWalk is a walking/balance test result (read-only once merged).
	KindWalk Kind = "walk"
	// KindTremor is a tremor test result (read-only once merged).
	KindTremor Kind = "tremor"
	// KindMedication is one logged medication dose (editable).
	KindMedication Kind = "medication"
	// KindSymptom is one logged symptom (editable).
	KindSymptom Kind = "symptom"
	// KindTrigger is one logged trigger (editable).
	KindTrigger Kind = "trigger"
)

// Valid reports whether k is a known item kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTap, KindWalk, KindTremor, KindMedication, KindSymptom, KindTrigger:
		return true
	}
	return false
}

// ReadOnly reports whether items of this kind are immutable once merged.
// Measurement results are never edited after the fact; re-delivered
// reports with a matching timestamp are skipped, not overwritten.
func (k Kind) ReadOnly() bool {
	switch k {
	case KindTap, KindWalk, KindTremor:
		return true
	}
	return false
}

// Item is one locally persisted, display-ready history event.
//
// Timestamp is the authoritative event time. DateBucket is the calendar
// day of Timestamp in the item's own timezone (TZSeconds), and
// TimeBucketID chains temporally-close items of a day into display runs:
// it holds the id of the run's first item, or is empty when this item
// starts its own run.
type Item struct {
	ID           string
	Kind         Kind
	TaskID       string
	ItemID       string // medication/symptom/trigger identifier; empty for measurements
	Title        string
	ImageName    string
	Timestamp    time.Time
	ReportDate   time.Time
	DateBucket   string
	TZSeconds    int
	TZChanged    bool
	TimeBucketID string

	// Medication fields
	Dosage    string
	TimeOfDay string
	Taken     bool

	// Symptom fields
	Severity      int
	DurationLevel string
	Note          string
	MedTiming     string

	// Tapping fields
	LeftCount  int
	RightCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewItem returns an item with a fresh surrogate id and creation
// timestamps. The surrogate id exists only so the time-bucket
// self-reference has something to point at; deduplication always uses the
// kind's natural key.
func NewItem(kind Kind, taskID string) *Item {
	now := time.Now().UTC()
	return &Item{
		ID:        uuid.NewString(),
		Kind:      kind,
		TaskID:    taskID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the fields every persisted item must carry.
func (it *Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !it.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", it.Kind)
	}
	if it.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if it.Title == "" {
		return fmt.Errorf("title is required")
	}
	if it.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if it.DateBucket == "" {
		return fmt.Errorf("date_bucket is required")
	}
	return nil
}

// Touch sets UpdatedAt to the current time.
// Call whenever a mutable field changes.
func (it *Item) Touch() {
	it.UpdatedAt = time.Now().UTC()
}
