// Package report provides the data structures for remotely-sourced study
// reports and the spool files they are delivered in.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Record is one completed task or survey instance as delivered by the
// report source. Records are immutable once delivered: the merge engine
// never writes them back, it only folds them into the history store.
//
// ClientData is an opaque JSON document whose shape depends on the task
// identifier. Use the Decode* functions to interpret it.
type Record struct {
	// TaskID is the task-type key (e.g. "tapping", "medication").
	TaskID string `json:"task_id"`

	// Date is the authoritative event timestamp for the report.
	Date time.Time `json:"date"`

	// TZSeconds is the UTC offset, in seconds, of the participant's
	// timezone at the time the report was recorded.
	TZSeconds int `json:"tz_seconds"`

	// ClientData carries the task-specific result payload.
	ClientData json.RawMessage `json:"client_data,omitempty"`
}

// Validate checks that the record has the fields every report must carry.
func (r *Record) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if r.TZSeconds < -14*3600 || r.TZSeconds > 14*3600 {
		return fmt.Errorf("tz_seconds out of range (got %d)", r.TZSeconds)
	}
	return nil
}

// Location returns the fixed-offset location the record was made in.
func (r *Record) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", r.TZSeconds/3600), r.TZSeconds)
}

// Batch is one spool file's worth of records, as fetched from the remote
// service in a single sync cycle. Records within a batch may span multiple
// task identifiers and arrive in any order.
type Batch struct {
	FetchedAt time.Time `json:"fetched_at"`
	Records   []Record  `json:"records"`
}

// Validate checks the batch envelope and every record in it.
func (b *Batch) Validate() error {
	if b.FetchedAt.IsZero() {
		return fmt.Errorf("fetched_at is required")
	}
	for i := range b.Records {
		if err := b.Records[i].Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// Filename returns the canonical spool filename for this batch.
func (b *Batch) Filename() string {
	return fmt.Sprintf("batch-%d.json", b.FetchedAt.UnixNano())
}

// SortRecords orders the batch's records by task identifier, then by date
// ascending. The sort is stable so same-timestamp records keep their
// delivery order.
func (b *Batch) SortRecords() {
	sort.SliceStable(b.Records, func(i, j int) bool {
		if b.Records[i].TaskID != b.Records[j].TaskID {
			return b.Records[i].TaskID < b.Records[j].TaskID
		}
		return b.Records[i].Date.Before(b.Records[j].Date)
	})
}

// ReadBatchFile reads and parses a spool batch file from the given path.
func ReadBatchFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file %s: %w", path, err)
	}

	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}

	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch file %s: %w", path, err)
	}

	return &batch, nil
}

// WriteBatchFile writes a batch to the spool directory as JSON.
func WriteBatchFile(spoolDir string, batch *Batch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid batch: %w", err)
	}

	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create spool directory: %w", err)
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}

	path := filepath.Join(spoolDir, batch.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write batch file %s: %w", path, err)
	}

	return path, nil
}

// ReadAllBatchFiles reads every batch file in the spool directory, oldest
// first. Invalid files are skipped with a warning to stderr so one corrupt
// download cannot block the rest of the spool.
func ReadAllBatchFiles(spoolDir string) ([]*Batch, error) {
	entries, err := os.ReadDir(spoolDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Batch{}, nil // Empty spool is valid
		}
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}

	var batches []*Batch
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(spoolDir, entry.Name())
		batch, err := ReadBatchFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid batch file %s: %v\n", entry.Name(), err)
			continue
		}

		batches = append(batches, batch)
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].FetchedAt.Before(batches[j].FetchedAt)
	})

	return batches, nil
}
