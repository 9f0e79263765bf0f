// Package bucket derives the calendar-day grouping of history items and
// chains temporally-close items within a day into display runs.
//
// A day bucket is keyed by the item's own timezone: an item recorded at
// 23:30 in UTC-8 belongs to that local day even though its UTC timestamp
// falls on the next one. Within a day, items closer than one hour to the
// head of the current run share the run; a gap of an hour or more starts
// a new run. Runs are recomputed from scratch for every touched day, which
// keeps the computation idempotent under interleaved edits.
package bucket

import (
	"fmt"
	"time"

	"github.com/mstride/historyd/internal/store"
)

// RunGap is the threshold separating time-bucket runs. An item whose gap
// from the run head's timestamp reaches this value starts a new run.
const RunGap = time.Hour

// DayKey returns the calendar-day bucket key (YYYY-MM-DD) for a timestamp
// observed at the given UTC offset.
func DayKey(t time.Time, tzSeconds int) string {
	loc := time.FixedZone(fmt.Sprintf("UTC%+d", tzSeconds/3600), tzSeconds)
	return t.In(loc).Format("2006-01-02")
}

// AssignRuns recomputes the time-bucket links and timezone-changed flags
// for one day's items, which must already be sorted by timestamp
// ascending. Items are mutated in place; the modified slice is returned
// for convenience. An empty slice is a no-op.
//
// The timezone-changed flag is a day-level property: it is set on every
// item whenever the first and last item of the day were recorded at
// different UTC offsets.
func AssignRuns(items []*store.Item) []*store.Item {
	if len(items) == 0 {
		return items
	}

	tzChanged := items[0].TZSeconds != items[len(items)-1].TZSeconds

	head := items[0]
	head.TimeBucketID = ""
	head.TZChanged = tzChanged

	for _, it := range items[1:] {
		it.TZChanged = tzChanged

		if it.Timestamp.Sub(head.Timestamp) < RunGap {
			it.TimeBucketID = head.ID
			continue
		}

		// Gap reached the threshold: this item heads a new run.
		it.TimeBucketID = ""
		head = it
	}

	return items
}
