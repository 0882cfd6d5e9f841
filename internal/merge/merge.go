// Package merge implements three-way reconciliation of divergent file versions.
//
// Given a common ancestor and two texts that evolved from it independently,
// the engine either produces a merged text or reports a structured conflict.
// Reconciliation is line-oriented and positional: line N of each version is
// compared against line N of the ancestor. This is deliberately not a general
// LCS diff: insertions shift everything below them and will surface as
// conflicts. The sync layer only reaches for the engine when two workers have
// genuinely diverged from a shared base, so the common case is small edits in
// place.
//
// A merge attempt is terminal in one call: it either succeeds or returns a
// conflict. Retries, resubmission and resolution policy are caller concerns.
package merge

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// LineStrategy selects how a file class is reconciled.
type LineStrategy int

const (
	// LineMerge reconciles line by line against the ancestor.
	LineMerge LineStrategy = iota
	// NoMerge refuses automatic reconciliation; every divergence is a conflict.
	// Used for binary formats where a textual merge would corrupt the file.
	NoMerge
)

// ConflictInfo describes a failed reconciliation with enough context for
// manual resolution.
type ConflictInfo struct {
	// Path is the file both versions target.
	Path string

	// Base is the common-ancestor content.
	Base string

	// Version1 and Version2 are the divergent contents.
	Version1 string
	Version2 string

	// Worker1 and Worker2 identify the contributing workers, when known.
	Worker1 string
	Worker2 string

	// DetectedAt is when the engine gave up on automatic reconciliation.
	DetectedAt time.Time
}

// Error implements the error interface so a conflict can flow through
// error-returning call chains without losing its structure.
func (ci *ConflictInfo) Error() string {
	return fmt.Sprintf("merge conflict in %s between %s and %s", ci.Path, ci.Worker1, ci.Worker2)
}

// Engine reconciles divergent versions and resolves conflicts by policy.
type Engine struct {
	strategy   Strategy
	patterns   map[string]LineStrategy
	priorities map[string]int
}

// NewEngine creates an engine with the default extension table and the given
// resolution strategy.
func NewEngine(strategy Strategy) *Engine {
	e := &Engine{
		strategy:   strategy,
		patterns:   make(map[string]LineStrategy),
		priorities: make(map[string]int),
	}

	// Source code and config formats merge line by line.
	for _, ext := range []string{"go", "rs", "py", "js", "ts", "c", "h", "sh", "txt", "md", "toml", "yaml", "yml", "json"} {
		e.patterns[ext] = LineMerge
	}

	// Binary formats never merge.
	for _, ext := range []string{"png", "jpg", "jpeg", "gif", "ico", "pdf", "zip", "gz", "tar"} {
		e.patterns[ext] = NoMerge
	}

	return e
}

// AddPattern registers or overrides the strategy for a file extension
// (without the leading dot).
func (e *Engine) AddPattern(ext string, strategy LineStrategy) {
	e.patterns[ext] = strategy
}

// SetWorkerPriority records a worker's priority for the priority resolution
// strategy. Unknown workers default to priority 5.
func (e *Engine) SetWorkerPriority(workerID string, priority int) {
	e.priorities[workerID] = priority
}

// strategyFor looks up the line strategy for a path. Unrecognized extensions
// fall back to line merge.
func (e *Engine) strategyFor(path string) LineStrategy {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if s, ok := e.patterns[ext]; ok {
		return s
	}
	return LineMerge
}

// Merge attempts automatic reconciliation of two versions against their
// common ancestor. Returns the merged text, or a *ConflictInfo error when the
// file class forbids merging or both versions changed the same line.
func (e *Engine) Merge(path, base, v1, v2 string) (string, error) {
	switch e.strategyFor(path) {
	case NoMerge:
		return "", &ConflictInfo{
			Path:       path,
			Base:       base,
			Version1:   v1,
			Version2:   v2,
			DetectedAt: time.Now(),
		}
	default:
		return e.mergeLines(path, base, v1, v2)
	}
}

// mergeLines performs the positional three-way comparison.
//
// For each line position: agreement between the versions keeps that line; a
// change on exactly one side takes that side; changes on both sides that also
// disagree with each other fail the whole merge. No partial merge is ever
// returned; the caller gets all of it or none of it.
func (e *Engine) mergeLines(path, base, v1, v2 string) (string, error) {
	baseLines := strings.Split(base, "\n")
	v1Lines := strings.Split(v1, "\n")
	v2Lines := strings.Split(v2, "\n")

	maxLen := len(baseLines)
	if len(v1Lines) > maxLen {
		maxLen = len(v1Lines)
	}
	if len(v2Lines) > maxLen {
		maxLen = len(v2Lines)
	}

	merged := make([]string, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		baseLine := lineAt(baseLines, i)
		v1Line := lineAt(v1Lines, i)
		v2Line := lineAt(v2Lines, i)

		switch {
		case v1Line == v2Line:
			merged = append(merged, v1Line)
		case v1Line == baseLine:
			merged = append(merged, v2Line)
		case v2Line == baseLine:
			merged = append(merged, v1Line)
		default:
			return "", &ConflictInfo{
				Path:       path,
				Base:       base,
				Version1:   v1,
				Version2:   v2,
				DetectedAt: time.Now(),
			}
		}
	}

	return strings.Join(merged, "\n"), nil
}

// lineAt returns the line at index i, or the empty string past the end.
// Positional comparison treats a missing line as empty, so a version that
// appends lines merges cleanly against an unchanged shorter version.
func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}

// Version pairs divergent content with its contributing worker.
type Version struct {
	Content string
	Worker  string
}

// MergeSequence folds more than two versions into one text by merging them
// pairwise against a running accumulator seeded with the first version. The
// first failing pairwise merge aborts the whole fold and returns that
// conflict, annotated with the two workers involved.
func (e *Engine) MergeSequence(path, base string, versions []Version) (string, error) {
	if len(versions) == 0 {
		return base, nil
	}
	if len(versions) == 1 {
		return versions[0].Content, nil
	}

	acc := versions[0].Content
	accWorker := versions[0].Worker

	for _, v := range versions[1:] {
		merged, err := e.Merge(path, base, acc, v.Content)
		if err != nil {
			if ci, ok := err.(*ConflictInfo); ok {
				ci.Worker1 = accWorker
				ci.Worker2 = v.Worker
			}
			return "", err
		}
		acc = merged
	}

	return acc, nil
}

// ConflictMarkers renders a conflict as editable text with distinct delimiter
// blocks per side, annotated with the contributing worker IDs.
func ConflictMarkers(base, v1, v2, id1, id2 string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<<<<<<< worker %s\n", id1)
	b.WriteString(v1)
	b.WriteString("\n=======\n")
	b.WriteString(v2)
	fmt.Fprintf(&b, "\n>>>>>>> worker %s\n", id2)
	return b.String()
}
