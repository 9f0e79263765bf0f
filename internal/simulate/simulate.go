// Package simulate generates synthetic report batches for development and
// merge-throughput testing.
//
// Generated batches go through the regular merge path, so they exercise
// dedup, day bucketing, and run assignment exactly the way real report
// deliveries do. Generation is seeded for reproducibility.
package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/mstride/historyd/internal/merge"
	"github.com/mstride/historyd/internal/report"
)

// Options controls what a generated batch looks like.
type Options struct {
	Days      int       // Calendar days to cover (default 7)
	PerDay    int       // Records per task per day (default 3)
	Seed      int64     // RNG seed (default 42)
	TZSeconds int       // UTC offset for every record
	End       time.Time // Last covered day (default now)
}

// LatencyStats captures merge performance across repeated batches.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalBatches int
	Errors       int
}

var (
	medications = []string{"Levodopa", "Pramipexole", "Rasagiline"}
	dosages     = []string{"50mg", "100mg", "0.5mg", "1mg"}
	timesOfDay  = []string{"08:00", "13:00", "20:00"}
	symptoms    = []string{"tremor", "stiffness", "slowness", "fatigue", "dizziness"}
	triggers    = []string{"poor-sleep", "stress", "missed-dose", "exercise", "caffeine"}
)

// Generate produces one synthetic batch covering opts.Days calendar days
// ending at opts.End. Every standard task identifier contributes records.
func Generate(opts Options) (*report.Batch, error) {
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.PerDay <= 0 {
		opts.PerDay = 3
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	if opts.End.IsZero() {
		opts.End = time.Now()
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	loc := time.FixedZone("sim", opts.TZSeconds)
	end := opts.End.In(loc)

	var records []report.Record
	for d := opts.Days - 1; d >= 0; d-- {
		day := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -d)
		dayRecords, err := generateDay(rng, day, opts.PerDay, opts.TZSeconds)
		if err != nil {
			return nil, err
		}
		records = append(records, dayRecords...)
	}

	batch := &report.Batch{
		FetchedAt: time.Now(),
		Records:   records,
	}
	batch.SortRecords()
	return batch, nil
}

// generateDay produces one day's worth of records across every task kind.
func generateDay(rng *rand.Rand, day time.Time, perTask, tzSeconds int) ([]report.Record, error) {
	var records []report.Record

	add := func(taskID string, at time.Time, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", taskID, err)
		}
		records = append(records, report.Record{
			TaskID:     taskID,
			Date:       at,
			TZSeconds:  tzSeconds,
			ClientData: data,
		})
		return nil
	}

	// Measurements at scattered times through the day. Tapping carries a
	// payload; walking and tremor are timestamp-only.
	for i := 0; i < perTask; i++ {
		at := day.Add(time.Duration(8+i*4) * time.Hour).Add(time.Duration(rng.Intn(60)) * time.Minute)

		if err := add("tapping", at, report.TapPayload{
			LeftTapCount:  40 + rng.Intn(40),
			RightTapCount: 40 + rng.Intn(40),
		}); err != nil {
			return nil, err
		}

		records = append(records, report.Record{
			TaskID:    "walking",
			Date:      at.Add(5 * time.Minute),
			TZSeconds: tzSeconds,
		})
		records = append(records, report.Record{
			TaskID:    "tremor",
			Date:      at.Add(10 * time.Minute),
			TZSeconds: tzSeconds,
		})
	}

	// One medication survey covering the day's schedule slots.
	doses := make([]report.DoseEntry, 0, len(timesOfDay))
	for _, tod := range timesOfDay {
		doses = append(doses, report.DoseEntry{
			Medication: medications[rng.Intn(len(medications))],
			Dosage:     dosages[rng.Intn(len(dosages))],
			TimeOfDay:  tod,
			Taken:      rng.Float64() < 0.9,
		})
	}
	if err := add("medication", day.Add(21*time.Hour), report.MedicationPayload{Doses: doses}); err != nil {
		return nil, err
	}

	// One symptom survey with a handful of entries.
	entries := make([]report.SymptomEntry, 0, 3)
	for i := 0; i < 1+rng.Intn(3); i++ {
		entries = append(entries, report.SymptomEntry{
			Symptom:  symptoms[rng.Intn(len(symptoms))],
			Severity: 1 + rng.Intn(4),
			LoggedAt: day.Add(time.Duration(9+rng.Intn(12)) * time.Hour),
		})
	}
	if err := add("symptom", day.Add(21*time.Hour), report.SymptomPayload{Symptoms: entries}); err != nil {
		return nil, err
	}

	// Triggers on roughly every other day.
	if rng.Float64() < 0.5 {
		trig := []report.TriggerEntry{{
			Trigger:  triggers[rng.Intn(len(triggers))],
			LoggedAt: day.Add(time.Duration(7+rng.Intn(14)) * time.Hour),
		}}
		if err := add("trigger", day.Add(21*time.Hour), report.TriggerPayload{Triggers: trig}); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// RunMergeBenchmark merges numBatches generated batches sequentially and
// reports latency statistics. Each batch re-covers the same window, so
// after the first batch it measures the dedup-dominated steady state.
func RunMergeBenchmark(ctx context.Context, merger merge.Merger, opts Options, numBatches int) (*LatencyStats, error) {
	if numBatches <= 0 {
		numBatches = 10
	}

	durations := make([]time.Duration, 0, numBatches)
	errorCount := 0

	for i := 0; i < numBatches; i++ {
		batch, err := Generate(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to generate batch %d: %w", i, err)
		}

		start := time.Now()
		_, err = merger.Merge(ctx, batch.Records)
		elapsed := time.Since(start)

		if err != nil {
			errorCount++
			continue
		}
		durations = append(durations, elapsed)
	}

	if len(durations) == 0 {
		return nil, fmt.Errorf("no batch merged successfully")
	}

	stats := computeLatencyStats(durations)
	stats.Errors = errorCount
	return stats, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalBatches: len(sorted),
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Merge Statistics:\n")
	fmt.Printf("  Batches: %d\n", s.TotalBatches)
	fmt.Printf("  Errors:  %d\n", s.Errors)
	fmt.Printf("  Min:     %v\n", s.Min)
	fmt.Printf("  P50:     %v\n", s.P50)
	fmt.Printf("  Mean:    %v\n", s.Mean)
	fmt.Printf("  P95:     %v\n", s.P95)
	fmt.Printf("  P99:     %v\n", s.P99)
	fmt.Printf("  Max:     %v\n", s.Max)
}
