// Package config loads historyd configuration from a YAML file and
// HISTORYD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything historyd needs to run.
type Config struct {
	// DataDir holds the history database and log files.
	DataDir string `mapstructure:"data_dir"`

	// SpoolDir is where the report source drops batch files.
	SpoolDir string `mapstructure:"spool_dir"`

	// CatalogPath optionally overrides the embedded task catalog.
	CatalogPath string `mapstructure:"catalog_path"`

	// DashboardPort is the WebSocket dashboard listen port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// DebounceInterval is how long the daemon waits before processing
	// spool changes, batching rapid drops together.
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`

	// LogFile is the rotated log file path. Empty logs to stderr only.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB and LogMaxBackups bound the rotated log files.
	LogMaxSizeMB  int `mapstructure:"log_max_size_mb"`
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// DBPath returns the history database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// Load reads configuration from path, or from ~/.historyd/config.yaml
// when path is empty. A missing config file is not an error: defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	baseDir := filepath.Join(home, ".historyd")

	v.SetDefault("data_dir", baseDir)
	v.SetDefault("spool_dir", filepath.Join(baseDir, "spool"))
	v.SetDefault("catalog_path", "")
	v.SetDefault("dashboard_port", 8770)
	v.SetDefault("debounce_interval", 200*time.Millisecond)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)

	v.SetEnvPrefix("HISTORYD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(baseDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
