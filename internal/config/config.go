// Package config loads engine configuration from a YAML file plus
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tuning knob for the engine. Loaded once at startup
// and treated as immutable.
type Config struct {
	// DataDir is the directory holding board JSON files.
	DataDir string `mapstructure:"data_dir"`
	// BackupDir receives the rotating backup copy before each primary
	// write. Defaults to <data_dir>/backups.
	BackupDir string `mapstructure:"backup_dir"`
	// CardDBPath is the SQLite card mirror location. Defaults to
	// <data_dir>/cards.db.
	CardDBPath string `mapstructure:"card_db_path"`

	// WriteDebounce is the per-entity durable write debounce window.
	WriteDebounce time.Duration `mapstructure:"write_debounce"`
	// WatchCoalesce is the external-event coalescing window.
	WatchCoalesce time.Duration `mapstructure:"watch_coalesce"`
	// CacheTTL bounds read cache freshness.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// RefreshThrottle collapses bursts of explicit cache refreshes.
	RefreshThrottle time.Duration `mapstructure:"refresh_throttle"`

	// ListenAddr is the WebSocket/metrics listen address for serve mode.
	ListenAddr string `mapstructure:"listen_addr"`

	// LogFile receives rotated JSON logs; empty logs to stderr only.
	LogFile string `mapstructure:"log_file"`
	// LogMaxSizeMB caps a log file before rotation.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`
	// LogMaxBackups caps retained rotated files.
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// Load reads configuration from the given file (optional) and the
// BOARDSYNC_* environment, applying reference defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", ".boardsync")
	v.SetDefault("write_debounce", "1000ms")
	v.SetDefault("watch_coalesce", "150ms")
	v.SetDefault("cache_ttl", "5000ms")
	v.SetDefault("refresh_throttle", "500ms")
	v.SetDefault("listen_addr", "127.0.0.1:7420")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)

	v.SetEnvPrefix("BOARDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(cfg.DataDir, "backups")
	}
	if cfg.CardDBPath == "" {
		cfg.CardDBPath = filepath.Join(cfg.DataDir, "cards.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.WriteDebounce <= 0 {
		return fmt.Errorf("write_debounce must be positive (got %s)", c.WriteDebounce)
	}
	if c.WatchCoalesce <= 0 {
		return fmt.Errorf("watch_coalesce must be positive (got %s)", c.WatchCoalesce)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive (got %s)", c.CacheTTL)
	}
	if c.RefreshThrottle <= 0 {
		return fmt.Errorf("refresh_throttle must be positive (got %s)", c.RefreshThrottle)
	}
	return nil
}
