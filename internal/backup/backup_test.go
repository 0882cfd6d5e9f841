package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewStore(filepath.Join(tmpDir, ".loom-backups"))

	target := filepath.Join(tmpDir, "f.txt")
	writeFile(t, target, "original bytes\n")

	if err := s.Create(target); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// Clobber the file, then restore.
	writeFile(t, target, "overwritten")
	if err := s.Restore(target); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("failed to read restored file: %v", err)
	}
	if string(got) != "original bytes\n" {
		t.Errorf("restored content = %q, want original bytes", got)
	}
}

func TestStore_RestoreWithoutBackup(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewStore(filepath.Join(tmpDir, ".loom-backups"))

	err := s.Restore(filepath.Join(tmpDir, "never-backed-up.txt"))
	if err == nil {
		t.Fatal("Restore() without a backup should fail")
	}
	if !errors.Is(err, ErrNoBackup) {
		t.Errorf("error = %v, want ErrNoBackup", err)
	}
}

func TestStore_RestorePicksLatest(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewStore(filepath.Join(tmpDir, ".loom-backups"))

	// Drive the clock manually so consecutive snapshots get distinct names.
	ts := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return ts }

	target := filepath.Join(tmpDir, "f.txt")

	writeFile(t, target, "first")
	if err := s.Create(target); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	ts = ts.Add(time.Second)
	writeFile(t, target, "second")
	if err := s.Create(target); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	writeFile(t, target, "clobbered")
	if err := s.Restore(target); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	got, _ := os.ReadFile(target)
	if string(got) != "second" {
		t.Errorf("restored %q, want the most recent snapshot %q", got, "second")
	}
}

func TestStore_CreateMissingFileIsNoop(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, ".loom-backups")
	s := NewStore(backupDir)

	if err := s.Create(filepath.Join(tmpDir, "ghost.txt")); err != nil {
		t.Fatalf("Create() on a missing file should be a no-op, got: %v", err)
	}

	// No backup directory should have been created.
	if _, err := os.Stat(backupDir); !os.IsNotExist(err) {
		t.Error("Create() on a missing file should not create the backup directory")
	}
}

func TestStore_BackupsDoNotCollideAcrossFiles(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewStore(filepath.Join(tmpDir, ".loom-backups"))

	a := filepath.Join(tmpDir, "a.txt")
	b := filepath.Join(tmpDir, "b.txt")
	writeFile(t, a, "contents of a")
	writeFile(t, b, "contents of b")

	if err := s.Create(a); err != nil {
		t.Fatalf("Create(a) failed: %v", err)
	}
	if err := s.Create(b); err != nil {
		t.Fatalf("Create(b) failed: %v", err)
	}

	writeFile(t, a, "x")
	writeFile(t, b, "y")

	if err := s.Restore(a); err != nil {
		t.Fatalf("Restore(a) failed: %v", err)
	}
	if err := s.Restore(b); err != nil {
		t.Fatalf("Restore(b) failed: %v", err)
	}

	gotA, _ := os.ReadFile(a)
	gotB, _ := os.ReadFile(b)
	if string(gotA) != "contents of a" || string(gotB) != "contents of b" {
		t.Errorf("restores crossed files: a=%q b=%q", gotA, gotB)
	}
}
