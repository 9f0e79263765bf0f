package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mstride/historyd/internal/logging"
	"github.com/mstride/historyd/internal/merge"
	"github.com/mstride/historyd/internal/report"
	"github.com/mstride/historyd/internal/simulate"
	"github.com/mstride/historyd/internal/store"
)

var (
	simDays    int
	simPerDay  int
	simSeed    int64
	simBench   int
	simToSpool bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Generate synthetic report data",
	Long: `Generate a synthetic report batch covering recent days.

By default the batch is merged straight into the store. Use --spool to
write it to the spool directory instead, or --bench N to merge N
batches and report latency statistics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		opts := simulate.Options{
			Days:   simDays,
			PerDay: simPerDay,
			Seed:   simSeed,
		}

		if simToSpool {
			batch, err := simulate.Generate(opts)
			if err != nil {
				return err
			}
			path, err := report.WriteBatchFile(cfg.SpoolDir, batch)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %d records to %s\n", len(batch.Records), path)
			return nil
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

		merger := merge.New(db, cat, newLogger("merge"))
		ctx := context.Background()

		if simBench > 0 {
			stats, err := simulate.RunMergeBenchmark(ctx, merger, opts, simBench)
			if err != nil {
				return err
			}
			stats.PrintStats()
			return nil
		}

		batch, err := simulate.Generate(opts)
		if err != nil {
			return err
		}
		res, err := merger.Merge(ctx, batch.Records)
		if err != nil {
			return err
		}
		fmt.Printf("Merged %d records: %d created, %d updated, %d skipped (%v)\n",
			len(batch.Records), res.Created, res.Updated, res.Skipped, res.Duration)
		return nil
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simDays, "days", 7, "calendar days to cover")
	simulateCmd.Flags().IntVar(&simPerDay, "per-day", 3, "measurement sessions per day")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 42, "random seed")
	simulateCmd.Flags().IntVar(&simBench, "bench", 0, "merge N batches and report latency statistics")
	simulateCmd.Flags().BoolVar(&simToSpool, "spool", false, "write the batch to the spool instead of merging")
	rootCmd.AddCommand(simulateCmd)
}
