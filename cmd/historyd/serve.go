package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mstride/historyd/internal/daemon"
	"github.com/mstride/historyd/internal/dashboard"
	"github.com/mstride/historyd/internal/logging"
	"github.com/mstride/historyd/internal/merge"
	"github.com/mstride/historyd/internal/store"
	"github.com/mstride/historyd/internal/syncstate"
)

var serveNoDashboard bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the history daemon (foreground)",
	Long: `Run the history daemon in foreground mode.

The daemon will:
  1. Open the history store, recovering from corruption if needed
  2. Watch the spool directory for fetched report batches
  3. Merge batches into the store one at a time
  4. Serve the live dashboard over WebSocket

Press Ctrl+C to stop.`,
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

		tracker := syncstate.New(cat.TaskIDs())
		merger := merge.New(db, cat, newLogger("merge"))

		d, err := daemon.New(db, merger, tracker, &daemon.Config{
			SpoolDir:         cfg.SpoolDir,
			DebounceInterval: cfg.DebounceInterval,
			Logger:           newLogger("daemon"),
		})
		if err != nil {
			return err
		}

		if !serveNoDashboard {
			dash := dashboard.NewServer(db, &dashboard.Config{
				Port:   cfg.DashboardPort,
				Logger: newLogger("dashboard"),
			})
			if err := dash.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer dash.Stop()
			d.SetDashboard(dash)
			fmt.Printf("Dashboard: http://%s/\n", dash.GetAddr())
		}

		fmt.Printf("Store: %s\n", cfg.DBPath())
		fmt.Printf("Spool: %s\n", cfg.SpoolDir)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return d.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoDashboard, "no-dashboard", false, "disable the WebSocket dashboard")
	rootCmd.AddCommand(serveCmd)
}
