// Package change defines the change record: an immutable description of one
// observed mutation to one file, with origin and content fingerprint.
//
// Change records are the unit of currency for the whole sync layer: workers
// produce them, the sync manager applies and fans them out, the history store
// logs them, and the watcher adapter synthesizes them from filesystem events.
// A record is never mutated after construction; it is destroyed only by
// eviction from a bounded history.
package change

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies the mutation a change record describes.
type Kind int

const (
	// Created indicates the file did not exist before this change.
	Created Kind = iota
	// Modified indicates an existing file's content was replaced.
	Modified
	// Deleted indicates the file was removed. Content is empty.
	Deleted
	// Renamed indicates the file was moved. Recorded in history and fanned
	// out like any other change, but has no disk-level semantics: the apply
	// path treats it as a no-op on the filesystem.
	Renamed
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ParseKind converts a string (as stored in the journal or config) back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "created":
		return Created, nil
	case "modified":
		return Modified, nil
	case "deleted":
		return Deleted, nil
	case "renamed":
		return Renamed, nil
	default:
		return 0, fmt.Errorf("unknown change kind %q", s)
	}
}

// Change is an immutable record of one file mutation.
//
// Fingerprint is derived from Content at construction and cannot be set
// independently; two records with equal content always carry equal
// fingerprints regardless of origin or timing.
type Change struct {
	// ID uniquely identifies this record.
	ID string

	// Path is the file the change applies to.
	Path string

	// Kind is the mutation class (created, modified, deleted, renamed).
	Kind Kind

	// Content is the full post-change snapshot. Empty for Deleted.
	// Changes carry whole-file content, not patches: applying a change is
	// always an overwrite.
	Content string

	// Timestamp is when the originating worker produced the change.
	Timestamp time.Time

	// Origin identifies the worker that produced the change. Opaque to the
	// sync layer; the process layer owns its meaning.
	Origin string

	// Fingerprint is the SHA-256 hex digest of Content.
	Fingerprint string
}

// New constructs a change record, assigning a fresh ID and deriving the
// content fingerprint.
func New(path string, kind Kind, content string, ts time.Time, origin string) Change {
	return Change{
		ID:          uuid.NewString(),
		Path:        path,
		Kind:        kind,
		Content:     content,
		Timestamp:   ts,
		Origin:      origin,
		Fingerprint: Fingerprint(content),
	}
}

// Fingerprint returns the deterministic content digest used for equality and
// conflict tests.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Validate checks structural requirements on a record before it enters the
// apply path.
func (c *Change) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if c.Kind == Deleted && c.Content != "" {
		return fmt.Errorf("deleted change must not carry content")
	}
	if c.Fingerprint != Fingerprint(c.Content) {
		return fmt.Errorf("fingerprint does not match content")
	}
	return nil
}
