package merge

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/mstride/historyd/internal/report"
	"github.com/mstride/historyd/internal/store"
)

// setupTestMerger creates a fresh store and merger over it.
func setupTestMerger(t *testing.T) (*store.DB, Merger) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	return db, New(db, nil, log.New(io.Discard, "", 0))
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return data
}

func tapRecord(t *testing.T, ts time.Time, tzSeconds, left, right int) report.Record {
	return report.Record{
		TaskID:     "tapping",
		Date:       ts,
		TZSeconds:  tzSeconds,
		ClientData: mustJSON(t, report.TapPayload{LeftTapCount: left, RightTapCount: right}),
	}
}

// TestMerge_CreatesMeasurement tests the basic create path for a tap test.
func TestMerge_CreatesMeasurement(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	res, err := m.Merge(ctx, []report.Record{tapRecord(t, ts, 0, 52, 48)})
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("Created = %d, want 1", res.Created)
	}
	if !res.LatestItem.Equal(ts) {
		t.Errorf("LatestItem = %v, want %v", res.LatestItem, ts)
	}

	items, err := db.ItemsForDay(ctx, "2026-03-15")
	if err != nil {
		t.Fatalf("ItemsForDay() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	it := items[0]
	if it.Kind != store.KindTap || it.LeftCount != 52 || it.RightCount != 48 {
		t.Errorf("item = %+v", it)
	}
	if it.Title != "Tap Test" {
		t.Errorf("Title = %q, want catalog title", it.Title)
	}
}

// TestMerge_ReadOnlySkip tests that a re-delivered measurement is skipped
// even when its payload differs from the stored item.
func TestMerge_ReadOnlySkip(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	if _, err := m.Merge(ctx, []report.Record{tapRecord(t, ts, 0, 52, 48)}); err != nil {
		t.Fatalf("First Merge() failed: %v", err)
	}

	res, err := m.Merge(ctx, []report.Record{tapRecord(t, ts, 0, 99, 99)})
	if err != nil {
		t.Fatalf("Second Merge() failed: %v", err)
	}
	if res.Skipped != 1 || res.Created != 0 {
		t.Errorf("Skipped = %d, Created = %d, want 1/0", res.Skipped, res.Created)
	}

	items, _ := db.ItemsForDay(ctx, "2026-03-15")
	if len(items) != 1 || items[0].LeftCount != 52 {
		t.Errorf("original item was not preserved: %+v", items)
	}
}

// TestMerge_Idempotent tests full-batch idempotence across kinds.
func TestMerge_Idempotent(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	records := []report.Record{
		tapRecord(t, ts, 0, 50, 50),
		{
			TaskID:    "medication",
			Date:      ts.Add(12 * time.Hour),
			TZSeconds: 0,
			ClientData: mustJSON(t, report.MedicationPayload{Doses: []report.DoseEntry{
				{Medication: "levodopa", Dosage: "100mg", TimeOfDay: "08:00", Taken: true},
			}}),
		},
		{
			TaskID:    "symptom",
			Date:      ts.Add(12 * time.Hour),
			TZSeconds: 0,
			ClientData: mustJSON(t, report.SymptomPayload{Symptoms: []report.SymptomEntry{
				{Symptom: "tremor", Severity: 2, LoggedAt: ts.Add(3 * time.Hour)},
			}}),
		},
		{
			TaskID:    "trigger",
			Date:      ts.Add(12 * time.Hour),
			TZSeconds: 0,
			ClientData: mustJSON(t, report.TriggerPayload{Triggers: []report.TriggerEntry{
				{Trigger: "poor-sleep", LoggedAt: ts.Add(time.Hour)},
			}}),
		},
	}

	if _, err := m.Merge(ctx, records); err != nil {
		t.Fatalf("First Merge() failed: %v", err)
	}
	countAfterFirst, _ := db.ItemCount(ctx)

	res, err := m.Merge(ctx, records)
	if err != nil {
		t.Fatalf("Second Merge() failed: %v", err)
	}
	if res.Created != 0 {
		t.Errorf("second merge Created = %d, want 0", res.Created)
	}

	countAfterSecond, _ := db.ItemCount(ctx)
	if countAfterFirst != countAfterSecond {
		t.Errorf("item count changed on re-merge: %d -> %d", countAfterFirst, countAfterSecond)
	}
}

// TestMerge_MedicationSlotUpdate tests the schedule-slot natural key: a
// later report for the same (medication, dosage, time-of-day) updates the
// one existing item rather than creating a second one.
func TestMerge_MedicationSlotUpdate(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 15, 21, 0, 0, 0, time.UTC)
	first := report.Record{
		TaskID:    "medication",
		Date:      day1,
		TZSeconds: 0,
		ClientData: mustJSON(t, report.MedicationPayload{Doses: []report.DoseEntry{
			{Medication: "levodopa", Dosage: "100mg", TimeOfDay: "08:00", Taken: false},
		}}),
	}
	if _, err := m.Merge(ctx, []report.Record{first}); err != nil {
		t.Fatalf("First Merge() failed: %v", err)
	}

	// Next day's report confirms the same slot as taken.
	day2 := day1.AddDate(0, 0, 1)
	second := first
	second.Date = day2
	second.ClientData = mustJSON(t, report.MedicationPayload{Doses: []report.DoseEntry{
		{Medication: "levodopa", Dosage: "100mg", TimeOfDay: "08:00", Taken: true},
	}})

	res, err := m.Merge(ctx, []report.Record{second})
	if err != nil {
		t.Fatalf("Second Merge() failed: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 {
		t.Errorf("Updated = %d, Created = %d, want 1/0", res.Updated, res.Created)
	}

	count, _ := db.ItemCount(ctx)
	if count != 1 {
		t.Fatalf("item count = %d, want 1 (slot updated in place)", count)
	}

	// The slot moved to day 2's morning; day 1 must be empty again.
	old, _ := db.ItemsForDay(ctx, "2026-03-15")
	if len(old) != 0 {
		t.Errorf("old day still has %d items", len(old))
	}
	moved, _ := db.ItemsForDay(ctx, "2026-03-16")
	if len(moved) != 1 || !moved[0].Taken {
		t.Errorf("moved day items = %+v, want one taken dose", moved)
	}
}

// TestMerge_DoseAnchoredByLoggedTime tests the explicit-time medication
// key used when the dose carries no schedule slot.
func TestMerge_DoseAnchoredByLoggedTime(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	logged := time.Date(2026, 3, 15, 14, 22, 0, 0, time.UTC)
	rec := report.Record{
		TaskID:    "medication",
		Date:      logged.Add(6 * time.Hour),
		TZSeconds: 0,
		ClientData: mustJSON(t, report.MedicationPayload{Doses: []report.DoseEntry{
			{Medication: "levodopa", Dosage: "50mg", LoggedAt: &logged, Taken: true},
		}}),
	}

	for i := 0; i < 2; i++ {
		if _, err := m.Merge(ctx, []report.Record{rec}); err != nil {
			t.Fatalf("Merge() %d failed: %v", i, err)
		}
	}

	count, _ := db.ItemCount(ctx)
	if count != 1 {
		t.Errorf("item count = %d, want 1", count)
	}

	items, _ := db.ItemsForDay(ctx, "2026-03-15")
	if len(items) != 1 || !items[0].Timestamp.Equal(logged) {
		t.Errorf("items = %+v, want one at logged time", items)
	}
}

// TestMerge_PartialFailure tests that one unparsable record is dropped
// with a failure count while the rest of the batch lands.
func TestMerge_PartialFailure(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	records := []report.Record{
		tapRecord(t, ts, 0, 40, 41),
		{
			TaskID:     "tapping",
			Date:       ts.Add(time.Hour),
			TZSeconds:  0,
			ClientData: json.RawMessage(`{"left_tap_count": "not a number"}`),
		},
		tapRecord(t, ts.Add(2*time.Hour), 0, 44, 45),
	}

	res, err := m.Merge(ctx, records)
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if res.Created != 2 {
		t.Errorf("Created = %d, want 2", res.Created)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}

	count, _ := db.ItemCount(ctx)
	if count != 2 {
		t.Errorf("item count = %d, want 2", count)
	}
}

// TestMerge_UnknownTaskSkipped tests that records for task identifiers
// outside the catalog are counted as skipped, not failed.
func TestMerge_UnknownTaskSkipped(t *testing.T) {
	_, m := setupTestMerger(t)

	res, err := m.Merge(context.Background(), []report.Record{{
		TaskID:    "mystery-task",
		Date:      time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
		TZSeconds: 0,
	}})
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if res.Skipped != 1 || res.Created != 0 {
		t.Errorf("Skipped = %d, Created = %d, want 1/0", res.Skipped, res.Created)
	}
}

// TestMerge_DayBucketFollowsItemZone tests that an evening item in a
// negative offset lands on its local day, not the UTC day.
func TestMerge_DayBucketFollowsItemZone(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	// 07:30 UTC on the 15th is 23:30 on the 14th in UTC-8.
	ts := time.Date(2026, 3, 15, 7, 30, 0, 0, time.UTC)
	if _, err := m.Merge(ctx, []report.Record{tapRecord(t, ts, -8*3600, 30, 30)}); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	items, err := db.ItemsForDay(ctx, "2026-03-14")
	if err != nil {
		t.Fatalf("ItemsForDay() failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("local day has %d items, want 1", len(items))
	}
}

// TestMerge_RunsAssigned tests that merged items come back with run
// links: close items chain to the first item of their run.
func TestMerge_RunsAssigned(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	records := []report.Record{
		tapRecord(t, base, 0, 10, 10),
		tapRecord(t, base.Add(20*time.Minute), 0, 11, 11),
		tapRecord(t, base.Add(3*time.Hour), 0, 12, 12),
	}
	if _, err := m.Merge(ctx, records); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	items, err := db.ItemsForDay(ctx, "2026-03-15")
	if err != nil {
		t.Fatalf("ItemsForDay() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	if items[0].TimeBucketID != "" {
		t.Errorf("first item should head a run, got %q", items[0].TimeBucketID)
	}
	if items[1].TimeBucketID != items[0].ID {
		t.Errorf("second item TimeBucketID = %q, want %q", items[1].TimeBucketID, items[0].ID)
	}
	if items[2].TimeBucketID != "" {
		t.Errorf("third item should head a new run, got %q", items[2].TimeBucketID)
	}
}

// TestMerge_TZChangeFlagsDay tests the day-level timezone-changed flag
// when a day's reports span two offsets.
func TestMerge_TZChangeFlagsDay(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	// Both records land on 2026-03-15 in their own zones, with the
	// offset moving from UTC-8 to UTC-7.
	morning := time.Date(2026, 3, 15, 17, 0, 0, 0, time.UTC) // 09:00 UTC-8
	evening := time.Date(2026, 3, 16, 2, 0, 0, 0, time.UTC)  // 19:00 UTC-7

	records := []report.Record{
		tapRecord(t, morning, -8*3600, 20, 20),
		tapRecord(t, evening, -7*3600, 21, 21),
	}
	if _, err := m.Merge(ctx, records); err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}

	items, err := db.ItemsForDay(ctx, "2026-03-15")
	if err != nil {
		t.Fatalf("ItemsForDay() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	for _, it := range items {
		if !it.TZChanged {
			t.Errorf("item %s: TZChanged = false, want true", it.ID)
		}
	}
}

// TestMerge_SymptomUpdate tests the symptom upsert by (identifier,
// logged time).
func TestMerge_SymptomUpdate(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	loggedAt := time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)
	record := func(severity int, note string) report.Record {
		return report.Record{
			TaskID:    "symptom",
			Date:      loggedAt.Add(8 * time.Hour),
			TZSeconds: 0,
			ClientData: mustJSON(t, report.SymptomPayload{Symptoms: []report.SymptomEntry{
				{Symptom: "tremor", Severity: severity, Note: note, LoggedAt: loggedAt},
			}}),
		}
	}

	if _, err := m.Merge(ctx, []report.Record{record(2, "")}); err != nil {
		t.Fatalf("First Merge() failed: %v", err)
	}
	res, err := m.Merge(ctx, []report.Record{record(4, "worse in the evening")})
	if err != nil {
		t.Fatalf("Second Merge() failed: %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("Updated = %d, want 1", res.Updated)
	}

	items, _ := db.ItemsForDay(ctx, "2026-03-15")
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Severity != 4 || items[0].Note != "worse in the evening" {
		t.Errorf("item = %+v, want updated severity and note", items[0])
	}
	if items[0].Title != "Tremor" {
		t.Errorf("Title = %q, want %q", items[0].Title, "Tremor")
	}
}

// TestMerge_EmptyBatch tests the zero-record no-op.
func TestMerge_EmptyBatch(t *testing.T) {
	_, m := setupTestMerger(t)

	res, err := m.Merge(context.Background(), nil)
	if err != nil {
		t.Fatalf("Merge(nil) failed: %v", err)
	}
	if res.Created != 0 || res.Skipped != 0 {
		t.Errorf("empty merge result = %+v", res)
	}
}

// TestTitleize pins the identifier-to-title conversion.
// TestMerge_EntriesLoggedPriorDay tests that entries logged on a day
// before their report's date still get run links: the logged day must be
// rebucketed even though no record in the batch is dated there.
func TestMerge_EntriesLoggedPriorDay(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	reportDate := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	first := time.Date(2026, 3, 15, 21, 0, 0, 0, time.UTC)
	second := first.Add(30 * time.Minute)

	rec := report.Record{
		TaskID:    "symptom",
		Date:      reportDate,
		TZSeconds: 0,
		ClientData: mustJSON(t, report.SymptomPayload{Symptoms: []report.SymptomEntry{
			{Symptom: "tremor", Severity: 2, LoggedAt: first},
			{Symptom: "stiffness", Severity: 3, LoggedAt: second},
		}}),
	}

	res, err := m.Merge(ctx, []report.Record{rec})
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if res.Created != 2 {
		t.Fatalf("Created = %d, want 2", res.Created)
	}

	items, err := db.ItemsForDay(ctx, "2026-03-15")
	if err != nil {
		t.Fatalf("ItemsForDay() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items on 2026-03-15, want 2", len(items))
	}
	if items[0].TimeBucketID != "" {
		t.Errorf("first item TimeBucketID = %q, want run head", items[0].TimeBucketID)
	}
	if items[1].TimeBucketID != items[0].ID {
		t.Errorf("second item TimeBucketID = %q, want %q", items[1].TimeBucketID, items[0].ID)
	}
}

// TestMerge_DoseLoggedPriorDayJoinsRun tests that an unscheduled dose with
// an explicit logged time chains onto an existing run of its own day.
func TestMerge_DoseLoggedPriorDayJoinsRun(t *testing.T) {
	db, m := setupTestMerger(t)
	ctx := context.Background()

	head := time.Date(2026, 3, 15, 20, 45, 0, 0, time.UTC)
	if _, err := m.Merge(ctx, []report.Record{tapRecord(t, head, 0, 50, 50)}); err != nil {
		t.Fatalf("Seed Merge() failed: %v", err)
	}

	loggedAt := head.Add(20 * time.Minute)
	rec := report.Record{
		TaskID:    "medication",
		Date:      time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC),
		TZSeconds: 0,
		ClientData: mustJSON(t, report.MedicationPayload{Doses: []report.DoseEntry{
			{Medication: "levodopa", Dosage: "100mg", LoggedAt: &loggedAt, Taken: true},
		}}),
	}

	res, err := m.Merge(ctx, []report.Record{rec})
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("Created = %d, want 1", res.Created)
	}

	items, err := db.ItemsForDay(ctx, "2026-03-15")
	if err != nil {
		t.Fatalf("ItemsForDay() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items on 2026-03-15, want 2", len(items))
	}
	if items[1].Kind != store.KindMedication {
		t.Fatalf("second item kind = %q, want medication", items[1].Kind)
	}
	if items[1].TimeBucketID != items[0].ID {
		t.Errorf("dose TimeBucketID = %q, want %q", items[1].TimeBucketID, items[0].ID)
	}
}

func TestTitleize(t *testing.T) {
	cases := map[string]string{
		"poor-sleep":  "Poor Sleep",
		"tremor":      "Tremor",
		"missed_dose": "Missed Dose",
		"übelkeit":    "Übelkeit",
		"":            "",
	}
	for in, want := range cases {
		if got := titleize(in); got != want {
			t.Errorf("titleize(%q) = %q, want %q", in, got, want)
		}
	}
}
