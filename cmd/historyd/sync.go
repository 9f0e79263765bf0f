package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mstride/historyd/internal/logging"
	"github.com/mstride/historyd/internal/merge"
	"github.com/mstride/historyd/internal/report"
	"github.com/mstride/historyd/internal/store"
	"github.com/mstride/historyd/internal/syncstate"
)

var syncPlanOnly bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Merge spooled report batches into the store",
	Long: `Perform a one-shot sync: merge every batch file sitting in the spool
directory into the history store, oldest first, then report what the
next fetch from the report source should cover.

With --plan, only the fetch plan is printed; nothing is merged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		newLogger, logCloser := logging.Setup(logging.Options{
			File:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
		defer logCloser.Close()

		db, err := store.OpenWithRecovery(cfg.DBPath(), newLogger("store"))
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer db.Close()

		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		ctx := context.Background()
		tracker := syncstate.New(cat.TaskIDs())
		if err := tracker.Load(ctx, db); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}

		if !syncPlanOnly {
			merger := merge.New(db, cat, newLogger("merge"))
			if err := syncSpool(ctx, merger, cfg.SpoolDir, tracker); err != nil {
				return err
			}
		}

		printFetchPlan(tracker)
		return nil
	},
}

// syncSpool merges every spooled batch, oldest first, removing each file
// after its batch lands. A failed batch is left in place and reported;
// later batches still run.
func syncSpool(ctx context.Context, merger merge.Merger, spoolDir string, tracker *syncstate.Tracker) error {
	batches, err := report.ReadAllBatchFiles(spoolDir)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Println("Spool is empty, nothing to merge")
		return nil
	}

	var created, updated, skipped, failed int
	for _, batch := range batches {
		res, err := merger.Merge(ctx, batch.Records)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "Warning: batch of %d records rolled back: %v\n", len(batch.Records), err)
			continue
		}

		created += res.Created
		updated += res.Updated
		skipped += res.Skipped
		if !res.LatestItem.IsZero() {
			tracker.Advance(res.LatestItem)
		}
		_ = os.Remove(filepath.Join(spoolDir, batch.Filename()))
	}

	fmt.Printf("Merged %d batches: %d created, %d updated, %d skipped", len(batches)-failed, created, updated, skipped)
	if failed > 0 {
		fmt.Printf(", %d batches failed", failed)
	}
	fmt.Println()
	return nil
}

// printFetchPlan shows per-task fetch windows for the next sync cycle.
func printFetchPlan(tracker *syncstate.Tracker) {
	fmt.Println("\nNext fetch plan:")
	for _, spec := range tracker.Query(time.Now()) {
		switch spec.Mode {
		case syncstate.ModeRange:
			fmt.Printf("  %-12s %s  %s .. %s\n", spec.TaskID, spec.Mode,
				spec.Since.Format("2006-01-02"), spec.Until.Format("2006-01-02"))
		default:
			fmt.Printf("  %-12s %s\n", spec.TaskID, spec.Mode)
		}
	}
}

func init() {
	syncCmd.Flags().BoolVar(&syncPlanOnly, "plan", false, "print the fetch plan without merging")
	rootCmd.AddCommand(syncCmd)
}
