// Package history provides the bounded per-path log of change records.
//
// The store is a cache of what the sync manager has applied, not a version
// graph: records are kept in insertion order, capped per path, and consulted
// only for conflict detection and read-only inspection. The filesystem remains
// the source of truth.
package history

import (
	"github.com/loom-dev/loom/internal/change"
)

// DefaultMaxPerPath is the per-path record cap used when none is configured.
const DefaultMaxPerPath = 100

// Store maps file paths to insertion-ordered change logs.
//
// Store performs no locking. It is owned by the sync manager, which is itself
// wrapped in a single mutual-exclusion boundary by its caller.
type Store struct {
	maxPerPath int
	byPath     map[string][]change.Change
}

// NewStore creates a store with the given per-path cap. A cap of zero or less
// falls back to DefaultMaxPerPath.
func NewStore(maxPerPath int) *Store {
	if maxPerPath <= 0 {
		maxPerPath = DefaultMaxPerPath
	}
	return &Store{
		maxPerPath: maxPerPath,
		byPath:     make(map[string][]change.Change),
	}
}

// Append records a change at the end of its path's log.
//
// When the log exceeds the cap, the oldest half is dropped in one step rather
// than evicting one record per insert. This keeps steady-state appends cheap:
// a trim happens at most once every cap/2 inserts.
func (s *Store) Append(c change.Change) {
	log := append(s.byPath[c.Path], c)

	if len(log) > s.maxPerPath {
		keep := len(log) - len(log)/2
		trimmed := make([]change.Change, keep)
		copy(trimmed, log[len(log)-keep:])
		log = trimmed
	}

	s.byPath[c.Path] = log
}

// Last returns the most recent change for a path, if any.
func (s *Store) Last(path string) (change.Change, bool) {
	log := s.byPath[path]
	if len(log) == 0 {
		return change.Change{}, false
	}
	return log[len(log)-1], true
}

// ForPath returns a copy of the ordered change log for a path. The copy keeps
// callers from aliasing the store's backing slices.
func (s *Store) ForPath(path string) []change.Change {
	log := s.byPath[path]
	if len(log) == 0 {
		return nil
	}
	out := make([]change.Change, len(log))
	copy(out, log)
	return out
}

// Len returns the number of records currently held for a path.
func (s *Store) Len(path string) int {
	return len(s.byPath[path])
}

// Paths returns every path with at least one record.
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		paths = append(paths, p)
	}
	return paths
}
