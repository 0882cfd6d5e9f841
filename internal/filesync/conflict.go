package filesync

import (
	"errors"
	"fmt"
	"time"

	"github.com/loom-dev/loom/internal/change"
)

// ConflictWindow bounds how far apart two changes can be and still be
// compared for conflict. Changes further apart are assumed to be sequential
// work, not a race.
const ConflictWindow = 500 * time.Millisecond

// ConflictError reports a rejected apply, carrying the prior change as the
// conflicting counterpart. It is recoverable: callers typically merge the
// two versions through the engine and resubmit.
type ConflictError struct {
	// Change is the rejected change.
	Change change.Change

	// Prior is the last recorded change it conflicts with.
	Prior change.Change
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: change from %s collides with change from %s at %s",
		e.Change.Path, e.Change.Origin, e.Prior.Origin, e.Prior.Timestamp.Format(time.RFC3339Nano))
}

// AsConflict unwraps err as a ConflictError.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// DetectConflict decides whether applying c would collide with the path's
// last recorded change. It only flags; reconciliation is the merge engine's
// job, invoked by the caller.
//
// A conflict exists only when every condition holds: the path has history,
// the prior change came from a different worker, the pair is not the allowed
// Created-then-Modified sequence (a worker discovering and building on a
// freshly created file), the new change lands within ConflictWindow of the
// prior one, and the content fingerprints differ.
//
// Known limitation: this is a timestamp heuristic, not a vector clock or
// causal history. Two truly divergent edits more than ConflictWindow apart
// are never compared and will not conflict; the second simply wins. The
// behavior is kept for compatibility with the systems this layer talks to.
func (m *Manager) DetectConflict(c change.Change) (change.Change, bool) {
	prior, ok := m.history.Last(c.Path)
	if !ok {
		return change.Change{}, false
	}

	if prior.Origin == c.Origin {
		return change.Change{}, false
	}

	if prior.Kind == change.Created && c.Kind == change.Modified {
		return change.Change{}, false
	}

	gap := c.Timestamp.Sub(prior.Timestamp)
	if gap < 0 || gap >= ConflictWindow {
		return change.Change{}, false
	}

	if prior.Fingerprint == c.Fingerprint {
		return change.Change{}, false
	}

	return prior, true
}
