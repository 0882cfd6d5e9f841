// Package config loads daemon configuration from defaults, an optional
// config file and LOOM_-prefixed environment variables.
//
// Configuration is resolved once at startup and passed down explicitly as a
// value; nothing in the core reads ambient global state, and none of it is
// reloadable mid-flight.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loom-dev/loom/internal/history"
	"github.com/loom-dev/loom/internal/journal"
	"github.com/loom-dev/loom/internal/merge"
)

// Config is the daemon's fully resolved configuration.
type Config struct {
	// Strategy names the conflict-resolution strategy: prefer-latest,
	// prefer-oldest, prefer-priority or manual.
	Strategy string `mapstructure:"strategy"`

	// MaxHistory caps the per-path change log.
	MaxHistory int `mapstructure:"max_history"`

	// WatchRoot is the directory tree the daemon observes and keeps
	// consistent.
	WatchRoot string `mapstructure:"watch_root"`

	// PollInterval is how often the daemon drains external changes.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	Backup    BackupConfig    `mapstructure:"backup"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// BackupConfig controls pre-write snapshots.
type BackupConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// JournalConfig controls the persistent sync journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DashboardConfig controls the WebSocket dashboard server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// NotifyConfig selects which event sinks are active.
type NotifyConfig struct {
	// Console enables the stderr sink.
	Console bool `mapstructure:"console"`

	// File, when non-empty, enables the rotated event log at that path.
	File string `mapstructure:"file"`

	// WebhookURL, when non-empty, enables the webhook sink.
	WebhookURL string `mapstructure:"webhook_url"`

	// WebhookSecretFile holds the HMAC secret for signing webhook
	// deliveries; empty means unsigned.
	WebhookSecretFile string `mapstructure:"webhook_secret_file"`
}

// Load resolves configuration. When path is non-empty that file is required;
// otherwise viper searches the working directory for loom.{yaml,toml,json}.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("strategy", merge.PreferLatest.String())
	v.SetDefault("max_history", history.DefaultMaxPerPath)
	v.SetDefault("watch_root", ".")
	v.SetDefault("poll_interval", 200*time.Millisecond)
	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.dir", ".loom-backups")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", journal.DefaultPath)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("notify.console", true)

	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("loom")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file is fine; defaults apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field values once at startup.
func (c *Config) Validate() error {
	if _, err := merge.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("max_history must be positive (got %d)", c.MaxHistory)
	}
	if c.WatchRoot == "" {
		return fmt.Errorf("watch_root is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive (got %s)", c.PollInterval)
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in 1..65535 (got %d)", c.Dashboard.Port)
	}
	if c.Backup.Enabled && c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required when backups are enabled")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	return nil
}

// ResolutionStrategy returns the parsed strategy. Call only after Validate.
func (c *Config) ResolutionStrategy() merge.Strategy {
	s, _ := merge.ParseStrategy(c.Strategy)
	return s
}
