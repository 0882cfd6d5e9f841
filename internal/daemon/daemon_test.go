package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loom-dev/loom/internal/change"
	"github.com/loom-dev/loom/internal/filesync"
	"github.com/loom-dev/loom/internal/journal"
	"github.com/loom-dev/loom/internal/merge"
	"github.com/loom-dev/loom/internal/notify"
)

// capturingNotifier records delivered events for assertions.
type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *capturingNotifier) Name() string { return "capturing" }

func (c *capturingNotifier) Notify(event notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingNotifier) all() []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Event(nil), c.events...)
}

func newTestManager(t *testing.T) *filesync.Manager {
	t.Helper()

	return filesync.NewManager(&filesync.Config{
		Strategy:      merge.PreferLatest,
		MaxHistory:    10,
		BackupEnabled: false,
		Logger:        log.New(io.Discard, "", 0),
	})
}

func newTestDaemon(t *testing.T) (*Daemon, *journal.DB, *capturingNotifier) {
	t.Helper()

	manager := newTestManager(t)

	db, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	d, err := New(manager, &Config{
		PollInterval:  20 * time.Millisecond,
		StatsInterval: time.Hour,
		Logger:        log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	notifier := &capturingNotifier{}
	d.SetJournal(db)
	d.SetNotifier(notifier)

	return d, db, notifier
}

func TestNew_RequiresManager(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil) should fail")
	}
}

func TestApply_Journals(t *testing.T) {
	d, db, _ := newTestDaemon(t)

	path := filepath.Join(t.TempDir(), "a.txt")
	c := change.New(path, change.Created, "hello", time.Now(), "worker-a")

	if err := d.Apply(c); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("applied file missing: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("file content = %q, want hello", data)
	}

	totals, err := db.GetTotals()
	if err != nil {
		t.Fatalf("GetTotals() failed: %v", err)
	}
	if totals.Changes != 1 {
		t.Errorf("journaled changes = %d, want 1", totals.Changes)
	}
	if totals.Conflicts != 0 {
		t.Errorf("journaled conflicts = %d, want 0", totals.Conflicts)
	}
}

func TestApply_ConflictPublishes(t *testing.T) {
	d, db, notifier := newTestDaemon(t)

	path := filepath.Join(t.TempDir(), "shared.txt")
	now := time.Now()

	first := change.New(path, change.Created, "v1", now, "worker-a")
	if err := d.Apply(first); err != nil {
		t.Fatalf("first Apply() failed: %v", err)
	}

	// A divergent create from another worker inside the race window.
	second := change.New(path, change.Created, "v2", now.Add(50*time.Millisecond), "worker-b")
	err := d.Apply(second)
	if err == nil {
		t.Fatal("second Apply() should conflict")
	}

	conflict, ok := filesync.AsConflict(err)
	if !ok {
		t.Fatalf("error %v is not a conflict", err)
	}
	if conflict.Prior.Origin != "worker-a" {
		t.Errorf("conflict prior origin = %s, want worker-a", conflict.Prior.Origin)
	}

	totals, _ := db.GetTotals()
	if totals.Conflicts != 1 {
		t.Errorf("journaled conflicts = %d, want 1", totals.Conflicts)
	}
	if totals.Changes != 1 {
		t.Errorf("journaled changes = %d, want 1 (rejected change must not be journaled)", totals.Changes)
	}

	events := notifier.all()
	if len(events) != 1 {
		t.Fatalf("got %d notifications, want 1", len(events))
	}
	if events[0].Type != notify.EventConflict || events[0].Worker != "worker-b" {
		t.Errorf("notification = %+v, want conflict from worker-b", events[0])
	}
}

func TestApply_ManualStrategyAsksForResolution(t *testing.T) {
	manager := filesync.NewManager(&filesync.Config{
		Strategy:      merge.Manual,
		MaxHistory:    10,
		BackupEnabled: false,
		Logger:        log.New(io.Discard, "", 0),
	})

	d, err := New(manager, &Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	notifier := &capturingNotifier{}
	d.SetNotifier(notifier)

	path := filepath.Join(t.TempDir(), "m.txt")
	now := time.Now()

	if err := d.Apply(change.New(path, change.Created, "v1", now, "worker-a")); err != nil {
		t.Fatalf("first Apply() failed: %v", err)
	}
	if err := d.Apply(change.New(path, change.Created, "v2", now.Add(50*time.Millisecond), "worker-b")); err == nil {
		t.Fatal("second Apply() should conflict")
	}

	events := notifier.all()
	if len(events) != 1 {
		t.Fatalf("got %d notifications, want 1", len(events))
	}
	if events[0].Type != notify.EventManualResolution {
		t.Errorf("notification type = %s, want manual_resolution under the manual strategy", events[0].Type)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	d.RegisterWorker("worker-a")
	d.RegisterWorker("worker-b")

	path := filepath.Join(t.TempDir(), "f.txt")
	c := change.New(path, change.Created, "x", time.Now(), "worker-a")
	if err := d.Apply(c); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	// The non-origin worker receives the change; the origin does not.
	if got := d.PendingFor("worker-b"); len(got) != 1 || got[0].ID != c.ID {
		t.Errorf("worker-b pending = %v, want the applied change", got)
	}
	if got := d.PendingFor("worker-a"); len(got) != 0 {
		t.Errorf("worker-a pending = %v, want empty", got)
	}

	d.UnregisterWorker("worker-b")
	if got := d.PendingFor("worker-b"); len(got) != 0 {
		t.Errorf("unregistered worker pending = %v, want empty", got)
	}
}

func TestStartStop_DrainsExternalEdits(t *testing.T) {
	d, db, _ := newTestDaemon(t)

	root := t.TempDir()
	d.config.WatchRoot = root

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Give the watcher time to come up.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(root, "external.txt"), []byte("edited outside"), 0644); err != nil {
		t.Fatalf("failed to write external file: %v", err)
	}

	// Wait for the poll loop to fold the edit into the journal.
	deadline := time.Now().Add(3 * time.Second)
	for {
		totals, err := db.GetTotals()
		if err != nil {
			t.Fatalf("GetTotals() failed: %v", err)
		}
		if totals.Changes >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("external edit never reached the journal")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	entries, err := db.RecentChanges(1)
	if err != nil {
		t.Fatalf("RecentChanges() failed: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no journaled entries")
	}
	if !strings.HasPrefix(entries[0].Origin, "external-") {
		t.Errorf("external change origin = %q, want external- prefix", entries[0].Origin)
	}
}

func TestExternalEdit_IngestedOnce(t *testing.T) {
	d, db, _ := newTestDaemon(t)

	root := t.TempDir()
	d.config.WatchRoot = root

	// Seed the file before watching so the edit below is a plain write
	// event, not a create/write pair.
	path := filepath.Join(root, "note.txt")
	if err := os.WriteFile(path, []byte("original"), 0644); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("one edit"), 0644); err != nil {
		t.Fatalf("failed to write external edit: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		totals, err := db.GetTotals()
		if err != nil {
			t.Fatalf("GetTotals() failed: %v", err)
		}
		if totals.Changes >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("external edit never reached the journal")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Applying the edit rewrites the file inside the watched root, so the
	// watcher reports it again. Many more poll ticks must not re-ingest it.
	time.Sleep(500 * time.Millisecond)

	totals, err := db.GetTotals()
	if err != nil {
		t.Fatalf("GetTotals() failed: %v", err)
	}
	if totals.Changes != 1 {
		t.Errorf("journaled changes = %d, want exactly 1 for one external edit", totals.Changes)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	entries, err := db.RecentChanges(10)
	if err != nil {
		t.Fatalf("RecentChanges() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d journal entries, want 1", len(entries))
	}
	if history := d.manager.HistoryFor(entries[0].Path); len(history) != 1 {
		t.Errorf("history entries = %d, want 1 for one external edit", len(history))
	}
}

func TestStats(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	path := filepath.Join(t.TempDir(), "s.txt")
	if err := d.Apply(change.New(path, change.Created, "x", time.Now(), "worker-a")); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	stats := d.Stats()
	if stats.TotalApplied != 1 {
		t.Errorf("TotalApplied = %d, want 1", stats.TotalApplied)
	}
	if stats.AverageApply < time.Millisecond {
		t.Errorf("AverageApply = %v, want at least 1 ms", stats.AverageApply)
	}
}
