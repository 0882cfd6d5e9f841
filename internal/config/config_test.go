package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loom-dev/loom/internal/merge"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty dir so no stray loom.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}

	if cfg.Strategy != "prefer-latest" {
		t.Errorf("strategy = %q, want prefer-latest", cfg.Strategy)
	}
	if cfg.MaxHistory != 100 {
		t.Errorf("max_history = %d, want 100", cfg.MaxHistory)
	}
	if cfg.WatchRoot != "." {
		t.Errorf("watch_root = %q, want .", cfg.WatchRoot)
	}
	if cfg.PollInterval != 200*time.Millisecond {
		t.Errorf("poll_interval = %s, want 200ms", cfg.PollInterval)
	}
	if !cfg.Backup.Enabled || cfg.Backup.Dir != ".loom-backups" {
		t.Errorf("backup defaults = %+v", cfg.Backup)
	}
	if !cfg.Journal.Enabled {
		t.Error("journal should default to enabled")
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard should default to disabled")
	}
	if !cfg.Notify.Console {
		t.Error("console notifications should default to enabled")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	content := `
strategy: prefer-priority
max_history: 50
watch_root: /srv/workspace
poll_interval: 1s
backup:
  enabled: false
dashboard:
  enabled: true
  port: 9090
notify:
  webhook_url: https://example.com/hook
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s) failed: %v", path, err)
	}

	if cfg.ResolutionStrategy() != merge.PreferPriority {
		t.Errorf("strategy = %s, want prefer-priority", cfg.Strategy)
	}
	if cfg.MaxHistory != 50 {
		t.Errorf("max_history = %d, want 50", cfg.MaxHistory)
	}
	if cfg.WatchRoot != "/srv/workspace" {
		t.Errorf("watch_root = %q", cfg.WatchRoot)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("poll_interval = %s, want 1s", cfg.PollInterval)
	}
	if cfg.Backup.Enabled {
		t.Error("backup should be disabled by the file")
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9090 {
		t.Errorf("dashboard = %+v, want enabled on 9090", cfg.Dashboard)
	}
	if cfg.Notify.WebhookURL != "https://example.com/hook" {
		t.Errorf("webhook_url = %q", cfg.Notify.WebhookURL)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() should fail when an explicit config file is missing")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOOM_STRATEGY", "manual")
	t.Setenv("LOOM_MAX_HISTORY", "25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ResolutionStrategy() != merge.Manual {
		t.Errorf("strategy = %q, want manual from env", cfg.Strategy)
	}
	if cfg.MaxHistory != 25 {
		t.Errorf("max_history = %d, want 25 from env", cfg.MaxHistory)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Strategy:     "prefer-latest",
			MaxHistory:   100,
			WatchRoot:    ".",
			PollInterval: time.Second,
			Backup:       BackupConfig{Enabled: true, Dir: ".loom-backups"},
			Journal:      JournalConfig{Enabled: true, Path: ".loom/journal.db"},
			Dashboard:    DashboardConfig{Enabled: true, Port: 8080},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown strategy", func(c *Config) { c.Strategy = "coin-flip" }, true},
		{"zero history", func(c *Config) { c.MaxHistory = 0 }, true},
		{"empty watch root", func(c *Config) { c.WatchRoot = "" }, true},
		{"negative poll", func(c *Config) { c.PollInterval = -time.Second }, true},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }, true},
		{"dashboard off ignores port", func(c *Config) { c.Dashboard = DashboardConfig{} }, false},
		{"backup without dir", func(c *Config) { c.Backup.Dir = "" }, true},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
