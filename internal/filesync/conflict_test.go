package filesync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/loom-dev/loom/internal/change"
)

// seedHistory applies a change so the detector has a prior record to compare
// against.
func seedHistory(t *testing.T, m *Manager, c change.Change) {
	t.Helper()
	if err := m.Apply(c); err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}
}

func TestDetectConflict_EmptyHistory(t *testing.T) {
	m, tmpDir := newTestManager(t)

	c := change.New(filepath.Join(tmpDir, "f.txt"), change.Created, "x", time.Now(), "worker-a")
	if _, conflict := m.DetectConflict(c); conflict {
		t.Error("a path with no history can never conflict")
	}
}

func TestDetectConflict_WindowBoundary(t *testing.T) {
	m, tmpDir := newTestManager(t)
	m.Register("worker-a")
	m.Register("worker-b")

	path := filepath.Join(tmpDir, "f.txt")
	base := time.Now()
	seedHistory(t, m, change.New(path, change.Modified, "prior", base, "worker-a"))

	// Just inside the window: conflict.
	inside := change.New(path, change.Modified, "new", base.Add(ConflictWindow-time.Millisecond), "worker-b")
	if _, conflict := m.DetectConflict(inside); !conflict {
		t.Error("divergent change just inside the window should conflict")
	}

	// Exactly at the window: no conflict (the window is exclusive).
	at := change.New(path, change.Modified, "new", base.Add(ConflictWindow), "worker-b")
	if _, conflict := m.DetectConflict(at); conflict {
		t.Error("change exactly at the window boundary should not conflict")
	}
}

func TestDetectConflict_EqualFingerprints(t *testing.T) {
	m, tmpDir := newTestManager(t)
	m.Register("worker-a")
	m.Register("worker-b")

	path := filepath.Join(tmpDir, "f.txt")
	base := time.Now()
	seedHistory(t, m, change.New(path, change.Modified, "same content", base, "worker-a"))

	// Different worker, inside the window, but identical content: both
	// workers converged on the same result, nothing to fight over.
	c := change.New(path, change.Modified, "same content", base.Add(50*time.Millisecond), "worker-b")
	if _, conflict := m.DetectConflict(c); conflict {
		t.Error("identical fingerprints must not conflict")
	}
}

func TestDetectConflict_OutOfOrderTimestamp(t *testing.T) {
	m, tmpDir := newTestManager(t)
	m.Register("worker-a")
	m.Register("worker-b")

	path := filepath.Join(tmpDir, "f.txt")
	base := time.Now()
	seedHistory(t, m, change.New(path, change.Modified, "prior", base, "worker-a"))

	// A change stamped before the prior one (clock skew between workers)
	// falls outside the forward-looking window and is not flagged.
	stale := change.New(path, change.Modified, "different", base.Add(-100*time.Millisecond), "worker-b")
	if _, conflict := m.DetectConflict(stale); conflict {
		t.Error("backdated change should not be flagged by the forward window")
	}
}

func TestDetectConflict_CreatedModifiedExemptionIsDirectional(t *testing.T) {
	m, tmpDir := newTestManager(t)
	m.Register("worker-a")
	m.Register("worker-b")

	path := filepath.Join(tmpDir, "f.txt")
	base := time.Now()

	// Modified followed by Created (re-creation race) gets no exemption.
	seedHistory(t, m, change.New(path, change.Modified, "prior", base, "worker-a"))
	recreate := change.New(path, change.Created, "different", base.Add(50*time.Millisecond), "worker-b")
	if _, conflict := m.DetectConflict(recreate); !conflict {
		t.Error("only the Created→Modified sequence is exempt, not the reverse")
	}
}

func TestDetectConflict_ReturnsPriorAsCounterpart(t *testing.T) {
	m, tmpDir := newTestManager(t)
	m.Register("worker-a")
	m.Register("worker-b")

	path := filepath.Join(tmpDir, "f.txt")
	base := time.Now()
	prior := change.New(path, change.Modified, "prior", base, "worker-a")
	seedHistory(t, m, prior)

	c := change.New(path, change.Modified, "new", base.Add(10*time.Millisecond), "worker-b")
	got, conflict := m.DetectConflict(c)
	if !conflict {
		t.Fatal("expected a conflict")
	}
	if got.ID != prior.ID {
		t.Errorf("counterpart = %s, want the prior change %s", got.ID, prior.ID)
	}
}
