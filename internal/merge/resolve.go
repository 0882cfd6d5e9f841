package merge

import (
	"errors"
	"fmt"
	"time"
)

// Strategy picks a winner when automatic merge is not attempted or not wanted.
type Strategy int

const (
	// PreferLatest keeps the version with the newer timestamp.
	PreferLatest Strategy = iota
	// PreferOldest keeps the version with the older timestamp.
	PreferOldest
	// PreferPriority keeps the version from the higher-priority worker.
	// Ties break toward the second version.
	PreferPriority
	// Manual refuses to pick: Resolve returns ErrManualResolution so the
	// caller can route the conflict to a human.
	Manual
)

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case PreferLatest:
		return "prefer-latest"
	case PreferOldest:
		return "prefer-oldest"
	case PreferPriority:
		return "prefer-priority"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "prefer-latest":
		return PreferLatest, nil
	case "prefer-oldest":
		return PreferOldest, nil
	case "prefer-priority":
		return PreferPriority, nil
	case "manual":
		return Manual, nil
	default:
		return 0, fmt.Errorf("unknown resolution strategy %q", s)
	}
}

// ErrManualResolution is returned by Resolve under the Manual strategy. It is
// distinguishable from infrastructure failures so upstream UI can offer a
// "resolve" affordance instead of a retry.
var ErrManualResolution = errors.New("requires manual resolution")

// DefaultWorkerPriority is assumed for workers with no registered priority.
const DefaultWorkerPriority = 5

// Resolve picks a winning version by the engine's strategy using only
// timestamps. The priority strategy degenerates to the second version here
// because no worker identities are available; use ResolveWithWorkers when
// they are.
func (e *Engine) Resolve(path, base, v1, v2 string, t1, t2 time.Time) (string, error) {
	switch e.strategy {
	case PreferLatest:
		if t2.After(t1) {
			return v2, nil
		}
		return v1, nil
	case PreferOldest:
		if t1.Before(t2) {
			return v1, nil
		}
		return v2, nil
	case PreferPriority:
		return v2, nil
	case Manual:
		return "", fmt.Errorf("%w for file: %s", ErrManualResolution, path)
	default:
		return "", fmt.Errorf("unknown resolution strategy %d", e.strategy)
	}
}

// ResolveWithWorkers picks a winner using registered worker priorities. Under
// any strategy other than PreferPriority the first version wins.
func (e *Engine) ResolveWithWorkers(path, base string, v1 Version, v2 Version) (string, error) {
	if e.strategy != PreferPriority {
		return v1.Content, nil
	}

	p1 := e.priorityOf(v1.Worker)
	p2 := e.priorityOf(v2.Worker)
	if p1 > p2 {
		return v1.Content, nil
	}
	return v2.Content, nil
}

func (e *Engine) priorityOf(workerID string) int {
	if p, ok := e.priorities[workerID]; ok {
		return p
	}
	return DefaultWorkerPriority
}
