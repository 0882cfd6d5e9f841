// Package daemon provides the sync daemon that coordinates worker changes,
// external file events and the activity journal.
//
// The daemon:
// 1. Serializes all applies through a single writer lock
// 2. Polls the filesystem watcher and folds external edits into the history
// 3. Records applied changes and conflicts in the journal
// 4. Publishes activity to the dashboard and notification sinks
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/loom-dev/loom/internal/change"
	"github.com/loom-dev/loom/internal/dashboard"
	"github.com/loom-dev/loom/internal/filesync"
	"github.com/loom-dev/loom/internal/journal"
	"github.com/loom-dev/loom/internal/merge"
	"github.com/loom-dev/loom/internal/notify"
)

// Config holds configuration for the daemon.
type Config struct {
	// WatchRoot is the directory tree to observe for external edits.
	// Empty disables watching; workers can still submit changes.
	WatchRoot string

	// PollInterval is how often to drain external file events
	PollInterval time.Duration

	// StatsInterval is how often to publish a statistics snapshot
	StatsInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  200 * time.Millisecond,
		StatsInterval: 5 * time.Second,
		Logger:        log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon coordinates the sync manager and its observers.
type Daemon struct {
	manager *filesync.Manager
	config  *Config

	// Optional observers; nil means disabled.
	journal  *journal.DB
	notifier notify.Notifier
	handler  *dashboard.Handler

	// applyMu serializes every apply; the manager itself is not
	// concurrency-safe and the single-writer discipline lives here.
	applyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon around a sync manager.
func New(manager *filesync.Manager, config *Config) (*Daemon, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 200 * time.Millisecond
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		manager: manager,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// SetJournal attaches a journal. Call before Start.
func (d *Daemon) SetJournal(db *journal.DB) {
	d.journal = db
}

// SetNotifier attaches a notification sink. Call before Start.
func (d *Daemon) SetNotifier(n notify.Notifier) {
	d.notifier = n
}

// SetDashboard attaches a dashboard event handler. Call before Start.
func (d *Daemon) SetDashboard(h *dashboard.Handler) {
	d.handler = h
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Start the filesystem watcher on the configured root
// 2. Drain and apply external file events on each poll tick
// 3. Periodically publish statistics
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.config.WatchRoot != "" {
		if err := d.manager.Watch(d.config.WatchRoot); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.config.WatchRoot)
	}

	d.wg.Add(2)
	go d.pollLoop()
	go d.statsLoop()

	// Wait for shutdown
	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	// Stop the watcher
	if err := d.manager.StopWatching(); err != nil {
		d.config.Logger.Printf("Error stopping watcher: %v", err)
	}

	// Wait for goroutines to finish
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Apply serializes and applies one worker change, feeding the journal,
// notifier and dashboard. The returned error carries the conflict when the
// change was rejected.
func (d *Daemon) Apply(c change.Change) error {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	return d.applyLocked(c)
}

func (d *Daemon) applyLocked(c change.Change) error {
	err := d.manager.Apply(c)
	if err == nil {
		d.recordApplied(c)
		return nil
	}

	if conflict, ok := filesync.AsConflict(err); ok {
		d.recordConflict(conflict)
	}
	return err
}

// recordApplied publishes a successful apply to all observers.
func (d *Daemon) recordApplied(c change.Change) {
	if d.journal != nil {
		if err := d.journal.RecordChange(c); err != nil {
			d.config.Logger.Printf("Error journaling change %s: %v", c.ID, err)
		}
	}
	if d.handler != nil {
		d.handler.OnChangeApplied(c)
	}
}

// recordConflict publishes a rejected apply to all observers.
func (d *Daemon) recordConflict(conflict *filesync.ConflictError) {
	c, prior := conflict.Change, conflict.Prior
	d.config.Logger.Printf("Conflict on %s: %s collides with %s", c.Path, c.Origin, prior.Origin)

	if d.journal != nil {
		if err := d.journal.RecordConflict(c.Path, c.Origin, prior.Origin, time.Now()); err != nil {
			d.config.Logger.Printf("Error journaling conflict: %v", err)
		}
	}
	if d.handler != nil {
		d.handler.OnConflict(c.Path, c.Origin, prior.Origin)
	}
	if d.notifier != nil {
		event := notify.Event{
			Type:   notify.EventConflict,
			Path:   c.Path,
			Worker: c.Origin,
			Detail: fmt.Sprintf("collides with change by %s", prior.Origin),
			Time:   time.Now(),
		}
		// Under the manual strategy nothing will auto-pick a winner, so the
		// notification asks for a human instead of reporting a plain conflict.
		if d.manager.Strategy() == merge.Manual {
			event.Type = notify.EventManualResolution
			event.Detail = fmt.Sprintf("collides with change by %s; manual strategy requires resolution", prior.Origin)
		}
		if err := d.notifier.Notify(event); err != nil {
			d.config.Logger.Printf("Error delivering conflict notification: %v", err)
		}
	}
}

// pollLoop drains external file events and watcher errors on each tick.
func (d *Daemon) pollLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.drainExternal()
		}
	}
}

// drainExternal applies pending watcher events through the writer lock.
func (d *Daemon) drainExternal() {
	for _, err := range d.manager.WatchErrors() {
		d.config.Logger.Printf("Watcher error: %v", err)
		if d.notifier != nil {
			event := notify.Event{
				Type:   notify.EventWatcherError,
				Detail: err.Error(),
				Time:   time.Now(),
			}
			if nerr := d.notifier.Notify(event); nerr != nil {
				d.config.Logger.Printf("Error delivering watcher notification: %v", nerr)
			}
		}
	}

	changes := d.manager.ExternalChanges()
	if len(changes) == 0 {
		return
	}

	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	for _, c := range changes {
		// The manager's own writes echo back from the watcher under a fresh
		// external origin. Ingesting an echo would rewrite the file and
		// trigger another event, looping forever, so a change whose content
		// matches the path's last recorded change is dropped as a no-op.
		if prior, ok := d.manager.LastChange(c.Path); ok && prior.Fingerprint == c.Fingerprint {
			continue
		}
		if err := d.applyLocked(c); err != nil {
			// Conflicts were already published; anything else is logged.
			if _, ok := filesync.AsConflict(err); !ok {
				d.config.Logger.Printf("Error applying external change %s: %v", c.Path, err)
			}
		}
	}
}

// statsLoop periodically publishes a statistics snapshot.
func (d *Daemon) statsLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.publishStats()
		}
	}
}

// publishStats pushes the manager's counters to the dashboard.
func (d *Daemon) publishStats() {
	if d.handler == nil {
		return
	}

	d.applyMu.Lock()
	stats := d.manager.Stats()
	workers := len(d.manager.Workers())
	d.applyMu.Unlock()

	d.handler.OnStats(stats, workers)
}

// RegisterWorker adds a worker to the sync pool and publishes the update.
func (d *Daemon) RegisterWorker(id string) {
	d.applyMu.Lock()
	d.manager.Register(id)
	count := len(d.manager.Workers())
	d.applyMu.Unlock()

	d.config.Logger.Printf("Worker registered: %s", id)
	if d.handler != nil {
		d.handler.OnWorkerChange(id, "registered", count)
	}
}

// UnregisterWorker removes a worker and publishes the update.
func (d *Daemon) UnregisterWorker(id string) {
	d.applyMu.Lock()
	d.manager.Unregister(id)
	count := len(d.manager.Workers())
	d.applyMu.Unlock()

	d.config.Logger.Printf("Worker unregistered: %s", id)
	if d.handler != nil {
		d.handler.OnWorkerChange(id, "unregistered", count)
	}
}

// PendingFor drains a worker's queued changes through the writer lock.
func (d *Daemon) PendingFor(worker string) []change.Change {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	return d.manager.PendingFor(worker)
}

// Stats returns a snapshot of the manager's counters.
func (d *Daemon) Stats() filesync.Stats {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	return d.manager.Stats()
}
