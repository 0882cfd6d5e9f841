package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loom-dev/loom/internal/config"
	"github.com/loom-dev/loom/internal/daemon"
	"github.com/loom-dev/loom/internal/dashboard"
	"github.com/loom-dev/loom/internal/filesync"
	"github.com/loom-dev/loom/internal/journal"
	"github.com/loom-dev/loom/internal/notify"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the sync daemon",
	Long: `Start the sync daemon over the configured workspace root.

The daemon watches the tree for external edits, serializes all applies
through a single writer, journals activity to an embedded database, and
notifies the configured sinks when changes collide.

Example usage:
  loom daemon                        # Use ./loom.yaml or defaults
  loom daemon --config /etc/loom.yaml
  loom daemon --root /srv/workspace  # Override the watch root

With the dashboard enabled, connect a WebSocket client to receive
real-time sync activity:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if root, _ := cmd.Flags().GetString("root"); root != "" {
			cfg.WatchRoot = root
		}

		return runDaemon(cfg)
	},
}

func init() {
	daemonCmd.Flags().String("root", "", "workspace root to watch (overrides config)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cfg *config.Config) error {
	manager := filesync.NewManager(&filesync.Config{
		Strategy:      cfg.ResolutionStrategy(),
		MaxHistory:    cfg.MaxHistory,
		BackupEnabled: cfg.Backup.Enabled,
		BackupDir:     cfg.Backup.Dir,
		Logger:        log.New(os.Stderr, "[filesync] ", log.LstdFlags),
	})

	d, err := daemon.New(manager, &daemon.Config{
		WatchRoot:    cfg.WatchRoot,
		PollInterval: cfg.PollInterval,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	})
	if err != nil {
		return err
	}

	if cfg.Journal.Enabled {
		db, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer db.Close()
		d.SetJournal(db)
	}

	notifier, closeSinks, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer closeSinks()
	if notifier != nil {
		d.SetNotifier(notifier)
	}

	if cfg.Dashboard.Enabled {
		server := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer server.Stop()

		d.SetDashboard(dashboard.NewHandler(server, log.New(os.Stderr, "[dashboard] ", log.LstdFlags)))
		fmt.Printf("Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n", cfg.Dashboard.Port, cfg.Dashboard.Port)
	}

	fmt.Printf("Syncing %s (strategy: %s)\n", cfg.WatchRoot, cfg.Strategy)
	fmt.Println("Press Ctrl+C to stop...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return d.Start(ctx)
}

// buildNotifier assembles the configured sink set. The returned cleanup
// closes file-backed sinks and is always safe to call.
func buildNotifier(cfg *config.Config) (notify.Notifier, func(), error) {
	var sinks []notify.Notifier
	cleanup := func() {}

	if cfg.Notify.Console {
		sinks = append(sinks, notify.NewConsoleSink(nil))
	}

	if cfg.Notify.File != "" {
		fileSink := notify.NewFileSink(cfg.Notify.File)
		sinks = append(sinks, fileSink)
		cleanup = func() { _ = fileSink.Close() }
	}

	if cfg.Notify.WebhookURL != "" {
		var secret []byte
		if cfg.Notify.WebhookSecretFile != "" {
			raw, err := os.ReadFile(cfg.Notify.WebhookSecretFile)
			if err != nil {
				return nil, cleanup, fmt.Errorf("failed to read webhook secret: %w", err)
			}
			secret = bytes.TrimSpace(raw)
		}
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, secret))
	}

	if len(sinks) == 0 {
		return nil, cleanup, nil
	}
	return notify.NewMulti(nil, sinks...), cleanup, nil
}
