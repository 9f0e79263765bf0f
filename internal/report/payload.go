package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// The client_data payload is polymorphic: its shape depends on the task
// identifier's category. Each category gets its own decode function so a
// malformed payload fails for that record alone, never for the batch.

// TapPayload is the result of a finger-tapping test.
type TapPayload struct {
	LeftTapCount  int `json:"left_tap_count"`
	RightTapCount int `json:"right_tap_count"`
}

// DoseEntry is one medication selection inside a medication survey payload.
// A dose is anchored in time either by an explicit logged timestamp or by a
// schedule time-of-day ("08:00") applied to the report's own date.
type DoseEntry struct {
	Medication string     `json:"medication"`
	Dosage     string     `json:"dosage"`
	TimeOfDay  string     `json:"time_of_day,omitempty"`
	LoggedAt   *time.Time `json:"logged_at,omitempty"`
	Taken      bool       `json:"taken"`
}

// MedicationPayload is the result of a medication-tracking survey.
type MedicationPayload struct {
	Doses []DoseEntry `json:"doses"`
}

// SymptomEntry is one logged symptom inside a symptom survey payload.
type SymptomEntry struct {
	Symptom       string    `json:"symptom"`
	Severity      int       `json:"severity"`
	DurationLevel string    `json:"duration_level,omitempty"`
	MedTiming     string    `json:"med_timing,omitempty"`
	Note          string    `json:"note,omitempty"`
	LoggedAt      time.Time `json:"logged_at"`
}

// SymptomPayload is the result of a symptom survey.
type SymptomPayload struct {
	Symptoms []SymptomEntry `json:"symptoms"`
}

// TriggerEntry is one logged trigger inside a trigger survey payload.
type TriggerEntry struct {
	Trigger  string    `json:"trigger"`
	LoggedAt time.Time `json:"logged_at"`
}

// TriggerPayload is the result of a trigger survey.
type TriggerPayload struct {
	Triggers []TriggerEntry `json:"triggers"`
}

// DecodeTap decodes a tapping-test payload. Walking and tremor measurements
// carry no fields the history store keeps, so only tapping has a decoder
// among the read-only categories.
func DecodeTap(raw json.RawMessage) (*TapPayload, error) {
	var p TapPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode tap payload: %w", err)
	}
	if p.LeftTapCount < 0 || p.RightTapCount < 0 {
		return nil, fmt.Errorf("tap counts must be non-negative (got %d/%d)", p.LeftTapCount, p.RightTapCount)
	}
	return &p, nil
}

// DecodeMedication decodes a medication survey payload.
func DecodeMedication(raw json.RawMessage) (*MedicationPayload, error) {
	var p MedicationPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode medication payload: %w", err)
	}
	for i, dose := range p.Doses {
		if dose.Medication == "" {
			return nil, fmt.Errorf("dose %d: medication is required", i)
		}
	}
	return &p, nil
}

// DecodeSymptoms decodes a symptom survey payload.
func DecodeSymptoms(raw json.RawMessage) (*SymptomPayload, error) {
	var p SymptomPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode symptom payload: %w", err)
	}
	for i, s := range p.Symptoms {
		if s.Symptom == "" {
			return nil, fmt.Errorf("symptom %d: symptom is required", i)
		}
		if s.LoggedAt.IsZero() {
			return nil, fmt.Errorf("symptom %d: logged_at is required", i)
		}
	}
	return &p, nil
}

// DecodeTriggers decodes a trigger survey payload.
func DecodeTriggers(raw json.RawMessage) (*TriggerPayload, error) {
	var p TriggerPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode trigger payload: %w", err)
	}
	for i, t := range p.Triggers {
		if t.Trigger == "" {
			return nil, fmt.Errorf("trigger %d: trigger is required", i)
		}
		if t.LoggedAt.IsZero() {
			return nil, fmt.Errorf("trigger %d: logged_at is required", i)
		}
	}
	return &p, nil
}

// ResolveDoseTime returns the event timestamp for a dose. An explicit
// logged timestamp wins; otherwise the schedule time-of-day is anchored to
// the report date in the report's own timezone. ok is false when neither
// anchor is usable.
func ResolveDoseTime(dose DoseEntry, reportDate time.Time, loc *time.Location) (t time.Time, ok bool) {
	if dose.LoggedAt != nil && !dose.LoggedAt.IsZero() {
		return *dose.LoggedAt, true
	}
	if dose.TimeOfDay == "" {
		return time.Time{}, false
	}

	tod, err := time.Parse("15:04", dose.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}

	day := reportDate.In(loc)
	return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, loc), true
}

// strictUnmarshal rejects payloads that are not JSON objects of the
// expected shape. A nil/empty payload is an error: every decodable
// category requires data.
func strictUnmarshal(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return err
	}
	return nil
}
