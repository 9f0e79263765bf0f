package report

import (
	"encoding/json"
	"testing"
	"time"
)

// TestDecodeTap tests tap payload decode and validation.
func TestDecodeTap(t *testing.T) {
	p, err := DecodeTap(json.RawMessage(`{"left_tap_count": 52, "right_tap_count": 48}`))
	if err != nil {
		t.Fatalf("DecodeTap() failed: %v", err)
	}
	if p.LeftTapCount != 52 || p.RightTapCount != 48 {
		t.Errorf("payload = %+v", p)
	}

	if _, err := DecodeTap(nil); err == nil {
		t.Error("empty payload accepted")
	}
	if _, err := DecodeTap(json.RawMessage(`{"left_tap_count": -1}`)); err == nil {
		t.Error("negative count accepted")
	}
	if _, err := DecodeTap(json.RawMessage(`{broken`)); err == nil {
		t.Error("malformed JSON accepted")
	}
}

// TestDecodeMedication tests medication payload validation.
func TestDecodeMedication(t *testing.T) {
	raw := json.RawMessage(`{"doses": [{"medication": "levodopa", "dosage": "100mg", "time_of_day": "08:00", "taken": true}]}`)
	p, err := DecodeMedication(raw)
	if err != nil {
		t.Fatalf("DecodeMedication() failed: %v", err)
	}
	if len(p.Doses) != 1 || p.Doses[0].Medication != "levodopa" {
		t.Errorf("payload = %+v", p)
	}

	if _, err := DecodeMedication(json.RawMessage(`{"doses": [{"dosage": "100mg"}]}`)); err == nil {
		t.Error("dose without medication accepted")
	}
}

// TestDecodeSymptoms tests symptom payload validation.
func TestDecodeSymptoms(t *testing.T) {
	raw := json.RawMessage(`{"symptoms": [{"symptom": "tremor", "severity": 3, "logged_at": "2026-03-15T11:00:00Z"}]}`)
	p, err := DecodeSymptoms(raw)
	if err != nil {
		t.Fatalf("DecodeSymptoms() failed: %v", err)
	}
	if p.Symptoms[0].Severity != 3 {
		t.Errorf("payload = %+v", p)
	}

	if _, err := DecodeSymptoms(json.RawMessage(`{"symptoms": [{"symptom": "tremor"}]}`)); err == nil {
		t.Error("symptom without logged_at accepted")
	}
}

// TestDecodeTriggers tests trigger payload validation.
func TestDecodeTriggers(t *testing.T) {
	raw := json.RawMessage(`{"triggers": [{"trigger": "poor-sleep", "logged_at": "2026-03-15T07:00:00Z"}]}`)
	p, err := DecodeTriggers(raw)
	if err != nil {
		t.Fatalf("DecodeTriggers() failed: %v", err)
	}
	if p.Triggers[0].Trigger != "poor-sleep" {
		t.Errorf("payload = %+v", p)
	}

	if _, err := DecodeTriggers(json.RawMessage(`{"triggers": [{"logged_at": "2026-03-15T07:00:00Z"}]}`)); err == nil {
		t.Error("trigger without identifier accepted")
	}
}

// TestResolveDoseTime tests the two time anchors and their precedence.
func TestResolveDoseTime(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*3600)
	reportDate := time.Date(2026, 3, 15, 21, 0, 0, 0, loc)

	// Explicit logged time wins over the schedule slot.
	logged := time.Date(2026, 3, 15, 8, 17, 0, 0, loc)
	ts, ok := ResolveDoseTime(DoseEntry{TimeOfDay: "08:00", LoggedAt: &logged}, reportDate, loc)
	if !ok || !ts.Equal(logged) {
		t.Errorf("ResolveDoseTime(with logged) = %v/%v, want logged time", ts, ok)
	}

	// Schedule slot anchors to the report's own calendar day.
	ts, ok = ResolveDoseTime(DoseEntry{TimeOfDay: "08:00"}, reportDate, loc)
	if !ok {
		t.Fatal("ResolveDoseTime(schedule) not ok")
	}
	want := time.Date(2026, 3, 15, 8, 0, 0, 0, loc)
	if !ts.Equal(want) {
		t.Errorf("ResolveDoseTime(schedule) = %v, want %v", ts, want)
	}

	// Neither anchor: unusable.
	if _, ok := ResolveDoseTime(DoseEntry{}, reportDate, loc); ok {
		t.Error("dose without any time anchor resolved")
	}

	// Malformed schedule slot: unusable.
	if _, ok := ResolveDoseTime(DoseEntry{TimeOfDay: "8 o'clock"}, reportDate, loc); ok {
		t.Error("malformed time_of_day resolved")
	}
}
