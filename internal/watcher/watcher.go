// Package watcher bridges OS filesystem notifications to change records.
//
// The adapter watches a directory tree recursively and converts create,
// write and remove events into change records with full content snapshots.
// Records accumulate in an internal queue and are handed out pull-style via
// Drain; nothing is ever applied automatically. A caller that wants an
// external edit reflected in sync state must route the drained record
// through the sync manager explicitly.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/loom-dev/loom/internal/change"
)

// Watcher converts fsnotify events under a root into queued change records.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	queue   []change.Change
	errs    []error
	root    string
}

// New creates a watcher. It must be started with Start before it observes
// anything.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the directory tree rooted at root. Every existing
// subdirectory is registered; directories created later are picked up from
// their create events.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	root = normalizePath(root)
	if err := w.addTree(root); err != nil {
		return err
	}

	w.root = root
	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop tears the watcher down and blocks until the event loop has exited.
// Queued records remain drainable after Stop.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()
	return nil
}

// IsRunning reports whether the watcher is currently observing events.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Drain removes and returns every queued change record, oldest first.
func (w *Watcher) Drain() []change.Change {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.queue
	w.queue = nil
	return out
}

// Errors removes and returns accumulated watch errors.
func (w *Watcher) Errors() []error {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.errs
	w.errs = nil
	return out
}

// addTree registers root and every directory below it with fsnotify.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// processEvents is the adapter's event loop.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			w.errs = append(w.errs, err)
			w.mu.Unlock()
		}
	}
}

// handleEvent converts one fsnotify event into a queued change record.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := normalizePath(event.Name)

	// New directories extend the watch; they produce no change record.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				w.mu.Lock()
				w.errs = append(w.errs, err)
				w.mu.Unlock()
			}
			return
		}
	}

	c, ok := w.convertEvent(event, path)
	if !ok {
		return
	}

	w.mu.Lock()
	w.queue = append(w.queue, c)
	w.mu.Unlock()
}

// convertEvent maps an fsnotify operation to a change record. Chmod and
// other metadata-only events are ignored; renames surface as deletions (the
// new name triggers its own create event).
func (w *Watcher) convertEvent(event fsnotify.Event, path string) (change.Change, bool) {
	var kind change.Kind
	content := ""

	switch {
	case event.Has(fsnotify.Create):
		kind = change.Created
		content = readSnapshot(path)
	case event.Has(fsnotify.Write):
		kind = change.Modified
		content = readSnapshot(path)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = change.Deleted
	default:
		return change.Change{}, false
	}

	// Each external event gets a fresh origin so it always looks foreign to
	// every registered worker; the conflict detector's same-origin exemption
	// must never swallow an outside edit.
	origin := "external-" + uuid.NewString()

	return change.New(path, kind, content, time.Now(), origin), true
}

// readSnapshot reads the file's current bytes, tolerating the file having
// vanished between the event and the read.
func readSnapshot(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// normalizePath canonicalizes platform path aliases. On macOS the temp
// directory is reported as /private/var by fsnotify while callers hold the
// /var symlink form; collapse to the latter so paths compare equal.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/private/var/") {
		return "/var/" + strings.TrimPrefix(path, "/private/var/")
	}
	return path
}
