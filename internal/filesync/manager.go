// Package filesync provides the sync manager: the single write path through
// which concurrent workers' file changes reach disk.
//
// The manager owns the history and backup stores, runs conflict detection on
// every apply, fans accepted changes out to the other registered workers'
// pending queues, and tracks performance statistics. It performs no internal
// locking: conflict-check-then-write must be atomic with respect to other
// applies, so the manager is designed to be wrapped in one mutual-exclusion
// boundary by its caller (see the daemon package). The filesystem is the
// source of truth; history and backups are derived state.
package filesync

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/loom-dev/loom/internal/backup"
	"github.com/loom-dev/loom/internal/change"
	"github.com/loom-dev/loom/internal/history"
	"github.com/loom-dev/loom/internal/merge"
	"github.com/loom-dev/loom/internal/watcher"
)

// DefaultBackupDir is the dotted in-workspace backup directory used when none
// is configured.
const DefaultBackupDir = ".loom-backups"

// Config holds construction-time settings for a Manager. None of it is
// reloadable mid-flight.
type Config struct {
	// Strategy selects the conflict-resolution policy handed to the merge
	// engine for explicit resolution calls.
	Strategy merge.Strategy

	// MaxHistory caps the per-path change log.
	MaxHistory int

	// BackupEnabled controls pre-write snapshots of existing files.
	BackupEnabled bool

	// BackupDir is where snapshots live.
	BackupDir string

	// Logger for manager activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Strategy:      merge.PreferLatest,
		MaxHistory:    history.DefaultMaxPerPath,
		BackupEnabled: true,
		BackupDir:     DefaultBackupDir,
		Logger:        log.New(os.Stderr, "[filesync] ", log.LstdFlags),
	}
}

// workerInfo tracks one registered worker.
type workerInfo struct {
	id           string
	priority     int
	lastActivity time.Time
}

// Stats is a snapshot of the manager's running counters.
type Stats struct {
	// TotalApplied counts successfully applied changes.
	TotalApplied int

	// TotalConflicts counts applies rejected by the conflict detector.
	TotalConflicts int

	// AverageApply is the running mean apply duration, folded incrementally.
	// Each sample is floored to 1 ms so the average stays informative on
	// fast filesystems.
	AverageApply time.Duration

	// LastSync is when the most recent apply succeeded.
	LastSync time.Time
}

// Manager coordinates file changes across registered workers.
type Manager struct {
	cfg    *Config
	logger *log.Logger

	history *history.Store
	backups *backup.Store
	engine  *merge.Engine

	workers map[string]*workerInfo
	pending map[string][]change.Change

	watch *watcher.Watcher

	stats Stats
}

// NewManager creates a manager from config. A nil config gets defaults.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[filesync] ", log.LstdFlags)
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = DefaultBackupDir
	}

	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger,
		history: history.NewStore(cfg.MaxHistory),
		backups: backup.NewStore(cfg.BackupDir),
		engine:  merge.NewEngine(cfg.Strategy),
		workers: make(map[string]*workerInfo),
		pending: make(map[string][]change.Change),
	}
}

// Engine exposes the manager's merge engine so callers can reconcile
// divergent versions before resubmitting through Apply.
func (m *Manager) Engine() *merge.Engine {
	return m.engine
}

// Strategy returns the configured conflict-resolution strategy.
func (m *Manager) Strategy() merge.Strategy {
	return m.cfg.Strategy
}

// Register adds a worker and creates its pending queue. Re-registering an
// existing worker resets its queue.
func (m *Manager) Register(workerID string) {
	m.workers[workerID] = &workerInfo{
		id:           workerID,
		priority:     merge.DefaultWorkerPriority,
		lastActivity: time.Now(),
	}
	m.pending[workerID] = nil
}

// Unregister removes a worker and its pending queue. Unknown IDs are a no-op.
func (m *Manager) Unregister(workerID string) {
	delete(m.workers, workerID)
	delete(m.pending, workerID)
}

// SetPriority records a worker's priority for the prefer-priority resolution
// strategy. Unknown IDs are ignored.
func (m *Manager) SetPriority(workerID string, priority int) {
	if w, ok := m.workers[workerID]; ok {
		w.priority = priority
		m.engine.SetWorkerPriority(workerID, priority)
	}
}

// Workers returns the IDs of all registered workers.
func (m *Manager) Workers() []string {
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	return ids
}

// Apply is the core write path.
//
// The sequence is: conflict check, pre-write backup, disk mutation, history
// append, fan-out, stats. A detected conflict rejects the change before any
// side effect: disk, history and queues stay untouched and only the conflict
// counter moves. A disk failure likewise stops the sequence, so a change that
// failed to write is never recorded or fanned out.
//
// Renamed changes are recorded and propagated but mutate nothing on disk;
// the kind exists in the taxonomy without disk-level semantics.
func (m *Manager) Apply(c change.Change) error {
	start := time.Now()

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid change: %w", err)
	}

	if prior, conflict := m.DetectConflict(c); conflict {
		m.stats.TotalConflicts++
		m.logger.Printf("Conflict on %s: %s vs prior %s", c.Path, c.Origin, prior.Origin)
		return &ConflictError{Change: c, Prior: prior}
	}

	if m.cfg.BackupEnabled {
		if _, err := os.Stat(c.Path); err == nil {
			if err := m.backups.Create(c.Path); err != nil {
				return fmt.Errorf("pre-write backup failed: %w", err)
			}
		}
	}

	if err := m.writeToDisk(c); err != nil {
		return err
	}

	m.history.Append(c)
	m.fanOut(c)
	m.touchWorker(c.Origin)

	m.recordApply(time.Since(start))
	m.logger.Printf("Applied %s %s from %s", c.Kind, c.Path, c.Origin)
	return nil
}

// writeToDisk performs the filesystem mutation for a change kind.
func (m *Manager) writeToDisk(c change.Change) error {
	switch c.Kind {
	case change.Created, change.Modified:
		if dir := filepath.Dir(c.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create parent directories for %s: %w", c.Path, err)
			}
		}
		if err := os.WriteFile(c.Path, []byte(c.Content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", c.Path, err)
		}
	case change.Deleted:
		if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", c.Path, err)
		}
	case change.Renamed:
		// No disk semantics; see Apply.
	}
	return nil
}

// fanOut enqueues the change to every registered worker except its origin.
func (m *Manager) fanOut(c change.Change) {
	for id := range m.pending {
		if id == c.Origin {
			continue
		}
		m.pending[id] = append(m.pending[id], c)
	}
}

func (m *Manager) touchWorker(workerID string) {
	if w, ok := m.workers[workerID]; ok {
		w.lastActivity = time.Now()
	}
}

// PendingFor drains and returns a worker's queued changes in FIFO order.
// Unknown workers get an empty result, not an error.
func (m *Manager) PendingFor(workerID string) []change.Change {
	out := m.pending[workerID]
	if _, ok := m.pending[workerID]; ok {
		m.pending[workerID] = nil
	}
	return out
}

// LastChange returns the most recent recorded change for a path.
func (m *Manager) LastChange(path string) (change.Change, bool) {
	return m.history.Last(path)
}

// HistoryFor returns a read-only copy of the ordered change log for a path.
func (m *Manager) HistoryFor(path string) []change.Change {
	return m.history.ForPath(path)
}

// Backup snapshots a file's current content on demand.
func (m *Manager) Backup(path string) error {
	return m.backups.Create(path)
}

// Restore replaces a file with its most recent snapshot. Returns an error
// wrapping backup.ErrNoBackup when there is nothing to restore.
func (m *Manager) Restore(path string) error {
	return m.backups.Restore(path)
}

// Watch starts the file watcher adapter over a directory tree. Observed
// events become change records retrievable via ExternalChanges; they are
// never applied automatically.
func (m *Manager) Watch(root string) error {
	if m.watch != nil && m.watch.IsRunning() {
		return fmt.Errorf("already watching")
	}

	w, err := watcher.New()
	if err != nil {
		return err
	}
	if err := w.Start(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	m.watch = w
	m.logger.Printf("Watching: %s", root)
	return nil
}

// ExternalChanges drains change records observed by the watcher. A caller
// must explicitly route them through Apply to take effect.
func (m *Manager) ExternalChanges() []change.Change {
	if m.watch == nil {
		return nil
	}
	return m.watch.Drain()
}

// WatchErrors drains errors accumulated by the watcher.
func (m *Manager) WatchErrors() []error {
	if m.watch == nil {
		return nil
	}
	return m.watch.Errors()
}

// StopWatching tears down the watcher adapter if one is running.
func (m *Manager) StopWatching() error {
	if m.watch == nil {
		return nil
	}
	return m.watch.Stop()
}

// Stats returns a snapshot of the running counters.
func (m *Manager) Stats() Stats {
	return m.stats
}

// minApplySample keeps the running average strictly informative even when
// the filesystem completes an apply in well under a millisecond.
const minApplySample = time.Millisecond

// recordApply folds one apply duration into the running average without
// storing samples.
func (m *Manager) recordApply(elapsed time.Duration) {
	if elapsed < minApplySample {
		elapsed = minApplySample
	}

	count := m.stats.TotalApplied
	if count == 0 {
		m.stats.AverageApply = elapsed
	} else {
		total := m.stats.AverageApply*time.Duration(count) + elapsed
		m.stats.AverageApply = total / time.Duration(count+1)
	}

	m.stats.TotalApplied++
	m.stats.LastSync = time.Now()
}
