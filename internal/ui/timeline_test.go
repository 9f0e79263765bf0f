package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/mstride/historyd/internal/store"
)

func init() {
	// Tests assert on text content, not ANSI sequences.
	ForcePlain()
}

func renderedItem(kind store.Kind, title string, ts time.Time, bucketID string) *store.Item {
	return &store.Item{
		ID:           title,
		Kind:         kind,
		TaskID:       string(kind),
		Title:        title,
		Timestamp:    ts,
		DateBucket:   ts.Format("2006-01-02"),
		TimeBucketID: bucketID,
	}
}

// TestRenderDay_RunsAndDetails tests run indentation and kind details.
func TestRenderDay_RunsAndDetails(t *testing.T) {
	base := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

	head := renderedItem(store.KindTap, "Tap Test", base, "")
	head.LeftCount = 52
	head.RightCount = 48
	member := renderedItem(store.KindWalk, "Walk Test", base.Add(10*time.Minute), head.ID)

	out := RenderDay("2026-03-15", []*store.Item{head, member})

	if !strings.Contains(out, "2026-03-15") {
		t.Error("day header missing")
	}
	if !strings.Contains(out, "Tap Test") || !strings.Contains(out, "L:52 R:48") {
		t.Errorf("tap line missing detail:\n%s", out)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if strings.HasPrefix(lines[1], " ") {
		t.Errorf("run head should not be indented: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "    ") {
		t.Errorf("run member should be indented: %q", lines[2])
	}
}

// TestRenderDay_TZMarker tests the timezone-change marker.
func TestRenderDay_TZMarker(t *testing.T) {
	base := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	it := renderedItem(store.KindTremor, "Tremor Test", base, "")
	it.TZChanged = true

	out := RenderDay("2026-03-15", []*store.Item{it})
	if !strings.Contains(out, "timezone changed") {
		t.Errorf("marker missing:\n%s", out)
	}
}

// TestRenderDay_Empty tests the empty-day placeholder.
func TestRenderDay_Empty(t *testing.T) {
	out := RenderDay("2026-03-15", nil)
	if !strings.Contains(out, "no items") {
		t.Errorf("placeholder missing:\n%s", out)
	}
}

// TestItemDetail_Medication tests the dose summary line.
func TestItemDetail_Medication(t *testing.T) {
	it := renderedItem(store.KindMedication, "Levodopa", time.Now(), "")
	it.Dosage = "100mg"
	it.TimeOfDay = "08:00"
	it.Taken = true

	if got := itemDetail(it); got != "100mg, 08:00" {
		t.Errorf("itemDetail() = %q", got)
	}

	it.Taken = false
	it.TimeOfDay = ""
	if got := itemDetail(it); got != "100mg, not taken" {
		t.Errorf("itemDetail() = %q", got)
	}
}
