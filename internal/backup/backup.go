// Package backup provides timestamped pre-write snapshots of tracked files.
//
// A backup is a plain byte copy under a dedicated directory, named
// {filename}_{unix-timestamp}.backup. Multiple backups of the same file
// coexist; restore picks the lexicographically-latest name, which the
// timestamp suffix makes the most recent.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoBackup is returned by Restore when the backup directory holds no
// snapshot for the requested file. Callers can distinguish "nothing to
// restore" from a filesystem fault with errors.Is.
var ErrNoBackup = errors.New("no backup found")

// backupSuffix is appended to every snapshot file name.
const backupSuffix = ".backup"

// Store manages snapshots under a single backup directory.
type Store struct {
	dir string

	// now is injectable for tests that need deterministic snapshot names.
	now func() time.Time
}

// NewStore creates a store rooted at dir. The directory is created lazily on
// the first snapshot, not here.
func NewStore(dir string) *Store {
	return &Store{
		dir: dir,
		now: time.Now,
	}
}

// Dir returns the backup directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Create snapshots the current content of path. If the file does not exist
// there is nothing to protect and Create is a no-op.
func (s *Store) Create(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s_%d%s", filepath.Base(path), s.now().Unix(), backupSuffix)
	if err := copyFile(path, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", path, err)
	}

	return nil
}

// Restore copies the most recent snapshot of path back over the file.
// Returns ErrNoBackup when no snapshot matches.
func (s *Store) Restore(path string) error {
	latest, err := s.latestBackup(filepath.Base(path))
	if err != nil {
		return err
	}

	if err := copyFile(latest, path); err != nil {
		return fmt.Errorf("failed to restore %s: %w", path, err)
	}

	return nil
}

// latestBackup finds the newest snapshot for a file name.
//
// Names sort lexicographically and the unix-timestamp suffix is monotonic, so
// the last name after sorting is the most recent snapshot.
func (s *Store) latestBackup(fileName string) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w for file: %s", ErrNoBackup, fileName)
		}
		return "", fmt.Errorf("failed to read backup directory: %w", err)
	}

	var matches []string
	prefix := fileName + "_"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, backupSuffix) {
			matches = append(matches, name)
		}
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("%w for file: %s", ErrNoBackup, fileName)
	}

	sort.Strings(matches)
	return filepath.Join(s.dir, matches[len(matches)-1]), nil
}

// copyFile copies src to dst, creating or truncating dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
