// Package syncstate tracks what the history store has already absorbed so
// the next fetch from the remote report source can be as narrow as
// possible.
//
// The tracker's marker is advisory: it is re-derivable by querying the
// store's latest item timestamp, so losing it only costs a wider refetch,
// never correctness. It is never advanced on a failed merge, which makes
// the next scheduled sync a natural retry.
package syncstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mstride/historyd/internal/store"
)

// Mode selects how much history a fetch should cover.
type Mode int

const (
	// ModeAll fetches the entire history. Used on first run, when the
	// store holds no prior item.
	ModeAll Mode = iota
	// ModeToday fetches only the current calendar day. Used when the
	// latest known item is already from today.
	ModeToday
	// ModeRange fetches from the latest known item's day forward. Used
	// when the latest known item is from a prior day.
	ModeRange
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeToday:
		return "today"
	case ModeRange:
		return "range"
	default:
		return "unknown"
	}
}

// FetchSpec tells the report source what to fetch for one task identifier.
// Since and Until are set only for ModeRange.
type FetchSpec struct {
	TaskID string
	Mode   Mode
	Since  time.Time
	Until  time.Time
}

// Tracker remembers the most recent item timestamp already persisted.
// Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	latest  *time.Time
	taskIDs []string
}

// New creates a tracker covering the given task identifiers. The marker
// starts empty; call Load to seed it from the store.
func New(taskIDs []string) *Tracker {
	return &Tracker{taskIDs: taskIDs}
}

// Load seeds the marker from the store's latest item timestamp.
// Called once after the store becomes ready.
func (tr *Tracker) Load(ctx context.Context, db *store.DB) error {
	latest, err := db.LatestItemTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync marker: %w", err)
	}

	tr.mu.Lock()
	tr.latest = latest
	tr.mu.Unlock()

	return nil
}

// Latest returns the current marker, or nil when no item is known.
func (tr *Tracker) Latest() *time.Time {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.latest == nil {
		return nil
	}
	t := *tr.latest
	return &t
}

// Advance moves the marker forward to t. Calls with an older timestamp
// are ignored, so batches may complete out of order without regressing
// the marker.
func (tr *Tracker) Advance(t time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.latest == nil || t.After(*tr.latest) {
		tr.latest = &t
	}
}

// Query returns one fetch spec per task identifier describing the window
// the report source should cover, judged against now's calendar day in
// now's location.
func (tr *Tracker) Query(now time.Time) []FetchSpec {
	tr.mu.Lock()
	latest := tr.latest
	tr.mu.Unlock()

	specs := make([]FetchSpec, 0, len(tr.taskIDs))
	for _, taskID := range tr.taskIDs {
		specs = append(specs, tr.specFor(taskID, latest, now))
	}
	return specs
}

func (tr *Tracker) specFor(taskID string, latest *time.Time, now time.Time) FetchSpec {
	if latest == nil {
		return FetchSpec{TaskID: taskID, Mode: ModeAll}
	}

	local := latest.In(now.Location())
	if sameDay(local, now) {
		return FetchSpec{TaskID: taskID, Mode: ModeToday}
	}

	// Refetching the latest item's whole day is idempotent by
	// construction, so the range starts at that day's midnight.
	since := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, now.Location())
	return FetchSpec{TaskID: taskID, Mode: ModeRange, Since: since, Until: now}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
