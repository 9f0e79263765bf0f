// Package importer loads archived report exports into the history store.
//
// The export format is JSONL: one report record per line, as produced by
// the research platform's data takeout. Records are merged through the
// regular merge path, so importing an archive on top of a live store is
// idempotent.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mstride/historyd/internal/merge"
	"github.com/mstride/historyd/internal/report"
)

// recordLine is the per-line wire format of an archive export.
type recordLine struct {
	TaskID     string          `json:"task_id"`
	Date       time.Time       `json:"date"`
	TZSeconds  int             `json:"tz_seconds"`
	ClientData json.RawMessage `json:"client_data,omitempty"`
}

// Options contains configuration for an import run.
type Options struct {
	FromJSONL string // Input JSONL file path
	BatchSize int    // Records per merge batch (default 500)
	DryRun    bool   // Parse and validate without merging
}

// Result contains statistics about an import run.
type Result struct {
	LinesRead     int
	RecordsParsed int
	BatchesMerged int
	Created       int
	Updated       int
	Skipped       int
	Errors        []string
}

// Import reads a JSONL archive and merges its records in batches.
//
// Malformed lines are recorded in Result.Errors and skipped; they never
// abort the run. A failed batch merge rolls that batch back whole, is
// recorded, and the import continues with the next batch.
func Import(ctx context.Context, merger merge.Merger, opts Options) (*Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	result := &Result{}
	batch := make([]report.Record, 0, opts.BatchSize)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		result.LinesRead++

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		rec, err := parseLine(line)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("line %d: %v", result.LinesRead, err))
			continue
		}
		result.RecordsParsed++

		batch = append(batch, rec)
		if len(batch) >= opts.BatchSize {
			flushBatch(ctx, merger, batch, opts.DryRun, result)
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read JSONL file: %w", err)
	}

	if len(batch) > 0 {
		flushBatch(ctx, merger, batch, opts.DryRun, result)
	}

	return result, nil
}

// parseLine decodes and validates one archive line.
func parseLine(line []byte) (report.Record, error) {
	var rl recordLine
	if err := json.Unmarshal(line, &rl); err != nil {
		return report.Record{}, fmt.Errorf("invalid JSON: %w", err)
	}

	rec := report.Record{
		TaskID:     rl.TaskID,
		Date:       rl.Date,
		TZSeconds:  rl.TZSeconds,
		ClientData: rl.ClientData,
	}
	if err := rec.Validate(); err != nil {
		return report.Record{}, err
	}
	return rec, nil
}

// flushBatch merges one batch and folds its outcome into the result.
func flushBatch(ctx context.Context, merger merge.Merger, batch []report.Record, dryRun bool, result *Result) {
	if dryRun {
		return
	}

	records := make([]report.Record, len(batch))
	copy(records, batch)

	res, err := merger.Merge(ctx, records)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("batch of %d records rolled back: %v", len(records), err))
		return
	}

	result.BatchesMerged++
	result.Created += res.Created
	result.Updated += res.Updated
	result.Skipped += res.Skipped
}
