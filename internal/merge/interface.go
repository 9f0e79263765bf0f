// Package merge folds batches of remotely fetched study reports into the
// local history store.
package merge

import (
	"context"
	"time"

	"github.com/mstride/historyd/internal/report"
)

// Result summarizes what one batch merge did to the store.
type Result struct {
	// Created is the number of new history items inserted.
	Created int
	// Updated is the number of existing items rewritten in place.
	Updated int
	// Skipped is the number of records or sub-entries left untouched:
	// already-present read-only items and unknown task identifiers.
	Skipped int
	// Failed is the number of records or sub-entries dropped because
	// their payload could not be decoded.
	Failed int
	// Days lists the calendar-day bucket keys rebucketed by this merge.
	Days []string
	// LatestItem is the max event timestamp persisted by this merge,
	// zero when nothing was created or updated. The daemon advances the
	// sync marker with it.
	LatestItem time.Time
	// Duration is how long the merge took, transaction included.
	Duration time.Duration
}

// Merger reconciles incoming report records with the history store.
//
// A merger deduplicates and merges heterogeneous report records into
// typed local items, identifying existing items by composite natural keys
// rather than surrogate ids, and keeps the derived day/time bucketing
// consistent for every day a batch touches.
//
// The merger is designed to be resilient: a single undecodable record
// never aborts the rest of its batch. It fails as a whole only when the
// store itself fails, in which case the entire batch rolls back and the
// next sync cycle retries naturally.
type Merger interface {
	// Merge upserts a batch of report records into the history store
	// inside one atomic unit of work.
	//
	// Records may span multiple task identifiers and arrive unordered;
	// they are partitioned and sorted before merging. Returns the merge
	// summary, or an error when the transaction could not commit (the
	// store is then unchanged).
	Merge(ctx context.Context, records []report.Record) (*Result, error)
}
