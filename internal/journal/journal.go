// Package journal persists a record of sync activity to an embedded SQLite
// database.
//
// The journal is derived state, not a second source of truth: it exists so
// the stats CLI and the dashboard can show activity across daemon restarts,
// which the in-memory history store cannot. The database runs in embedded
// mode with WAL so readers (the stats command) don't block the daemon's
// writes.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/loom-dev/loom/internal/change"
)

// DefaultPath is the journal location used when none is configured.
const DefaultPath = ".loom/journal.db"

// DB wraps the journal database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a journal database at the given path, creating parent
// directories and the schema as needed. The caller must Close it.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	db := &DB{conn: conn, path: path}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close releases the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the journal file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS changes (
    id           TEXT PRIMARY KEY,
    path         TEXT NOT NULL,
    kind         TEXT NOT NULL,
    origin       TEXT NOT NULL,
    fingerprint  TEXT NOT NULL,
    produced_at  TIMESTAMP NOT NULL,
    applied_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_path ON changes(path);
CREATE INDEX IF NOT EXISTS idx_changes_applied_at ON changes(applied_at);

CREATE TABLE IF NOT EXISTS conflicts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    path         TEXT NOT NULL,
    origin       TEXT NOT NULL,
    prior_origin TEXT NOT NULL,
    detected_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_path ON conflicts(path);
`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// RecordChange appends an applied change to the journal.
func (db *DB) RecordChange(c change.Change) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO changes (id, path, kind, origin, fingerprint, produced_at, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Path, c.Kind.String(), c.Origin, c.Fingerprint, c.Timestamp, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	return nil
}

// RecordConflict appends a detected conflict to the journal.
func (db *DB) RecordConflict(path, origin, priorOrigin string, detectedAt time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO conflicts (path, origin, prior_origin, detected_at) VALUES (?, ?, ?, ?)`,
		path, origin, priorOrigin, detectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	return nil
}

// Totals summarizes the journal's counters.
type Totals struct {
	Changes   int
	Conflicts int
}

// GetTotals returns overall change and conflict counts.
func (db *DB) GetTotals() (Totals, error) {
	var t Totals
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM changes`).Scan(&t.Changes); err != nil {
		return t, fmt.Errorf("failed to count changes: %w", err)
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM conflicts`).Scan(&t.Conflicts); err != nil {
		return t, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return t, nil
}

// Entry is one journaled change row.
type Entry struct {
	ID          string
	Path        string
	Kind        string
	Origin      string
	Fingerprint string
	ProducedAt  time.Time
	AppliedAt   time.Time
}

// RecentChanges returns the newest journaled changes, most recent first.
func (db *DB) RecentChanges(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		`SELECT id, path, kind, origin, fingerprint, produced_at, applied_at
		 FROM changes ORDER BY applied_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent changes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.Kind, &e.Origin, &e.Fingerprint, &e.ProducedAt, &e.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// PathCount pairs a path with its journaled change count.
type PathCount struct {
	Path  string
	Count int
}

// BusiestPaths returns the paths with the most journaled changes.
func (db *DB) BusiestPaths(limit int) ([]PathCount, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.conn.Query(
		`SELECT path, COUNT(*) AS n FROM changes GROUP BY path ORDER BY n DESC, path LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query busiest paths: %w", err)
	}
	defer rows.Close()

	var counts []PathCount
	for rows.Next() {
		var pc PathCount
		if err := rows.Scan(&pc.Path, &pc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan path count: %w", err)
		}
		counts = append(counts, pc)
	}

	return counts, rows.Err()
}
