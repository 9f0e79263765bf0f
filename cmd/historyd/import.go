package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mstride/historyd/internal/importer"
	"github.com/mstride/historyd/internal/logging"
	"github.com/mstride/historyd/internal/merge"
	"github.com/mstride/historyd/internal/store"
)

var (
	importBatchSize int
	importDryRun    bool
)

var importCmd = &cobra.Command{
	Use:   "import <archive.jsonl>",
	Short: "Import a JSONL report archive",
	Long: `Import an archived report export (one record per line) into the
history store.

Records flow through the regular merge path, so re-importing an archive
over a live store is safe: already-known records are skipped.`,
	Args: cobra.ExactArgs(1),
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

		merger := merge.New(db, cat, newLogger("merge"))
		res, err := importer.Import(context.Background(), merger, importer.Options{
			FromJSONL: args[0],
			BatchSize: importBatchSize,
			DryRun:    importDryRun,
		})
		if err != nil {
			return err
		}

		if importDryRun {
			fmt.Printf("Dry run: %d lines read, %d records valid\n", res.LinesRead, res.RecordsParsed)
		} else {
			fmt.Printf("Imported %d records in %d batches: %d created, %d updated, %d skipped\n",
				res.RecordsParsed, res.BatchesMerged, res.Created, res.Updated, res.Skipped)
		}

		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", e)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 500, "records per merge batch")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and validate without merging")
	rootCmd.AddCommand(importCmd)
}
