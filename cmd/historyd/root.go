package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mstride/historyd/internal/catalog"
	"github.com/mstride/historyd/internal/config"
	"github.com/mstride/historyd/internal/ui"
)

var (
	cfgFile  string
	dataDir  string
	plainOut bool
)

var rootCmd = &cobra.Command{
	Use:   "historyd",
	Short: "Local history store for movement-disorder study reports",
	Long: `historyd maintains the participant's local activity history.

It merges report batches fetched from the research platform into a local
SQLite store, grouping items into calendar days and temporally-close
display runs. Run 'historyd serve' to keep the store in sync, or use the
query commands against an existing store.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if plainOut {
			ui.ForcePlain()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.historyd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory")
	rootCmd.PersistentFlags().BoolVar(&plainOut, "plain", false, "disable color output")
}

// loadConfig loads configuration, honoring persistent flag overrides.
// A --data-dir override moves the spool along with it unless the spool
// was configured explicitly.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		if cfg.SpoolDir == filepath.Join(cfg.DataDir, "spool") {
			cfg.SpoolDir = filepath.Join(dataDir, "spool")
		}
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// loadCatalog resolves the task catalog for the current configuration.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.CatalogPath)
}
