// Package notify delivers sync events to a closed set of sinks.
//
// The sink set is deliberately fixed (console, rotating log file, webhook),
// dispatched through one interface, rather than an open-ended plugin
// registry. A closed set stays auditable: every delivery path is named here
// and covered by tests.
package notify

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType classifies a sync event.
type EventType string

const (
	// EventConflict reports a rejected apply.
	EventConflict EventType = "conflict"
	// EventManualResolution reports a resolution the strategy refused to
	// auto-pick.
	EventManualResolution EventType = "manual_resolution"
	// EventWatcherError reports a failure in the filesystem watcher.
	EventWatcherError EventType = "watcher_error"
)

// Event is one notification payload.
type Event struct {
	Type   EventType `json:"type"`
	Path   string    `json:"path,omitempty"`
	Worker string    `json:"worker,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Notifier delivers events to one destination.
type Notifier interface {
	// Notify delivers a single event. Delivery failures are returned, not
	// retried; the caller decides whether a sink failure matters.
	Notify(event Event) error

	// Name identifies the sink in logs.
	Name() string
}

// ConsoleSink writes events to a logger (stderr by default).
type ConsoleSink struct {
	logger *log.Logger
}

// NewConsoleSink creates a console sink. A nil logger gets a prefixed
// stderr default.
func NewConsoleSink(logger *log.Logger) *ConsoleSink {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &ConsoleSink{logger: logger}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Notify(event Event) error {
	s.logger.Printf("%s path=%s worker=%s %s", event.Type, event.Path, event.Worker, event.Detail)
	return nil
}

// FileSink appends JSON-encoded events to a size-rotated log file.
type FileSink struct {
	out *lumberjack.Logger
}

// NewFileSink creates a file sink writing to path, rotating at 10 MB and
// keeping five old files.
func NewFileSink(path string) *FileSink {
	return &FileSink{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Notify(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.out.Write(line); err != nil {
		return fmt.Errorf("failed to write event log: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying rotated file.
func (s *FileSink) Close() error {
	return s.out.Close()
}

// WebhookSink POSTs JSON-encoded events to an HTTP endpoint, signing each
// request body with HMAC-SHA256 in the X-Loom-Signature-256 header so the
// receiver can verify origin.
type WebhookSink struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookSink creates a webhook sink. The secret may be empty, in which
// case requests are unsigned.
func NewWebhookSink(url string, secret []byte) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Notify(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if len(s.secret) > 0 {
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(body)
		req.Header.Set("X-Loom-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans one event out to several sinks, returning the first error after
// attempting every sink.
type Multi struct {
	sinks  []Notifier
	logger *log.Logger
}

// NewMulti creates a fan-out notifier over the given sinks.
func NewMulti(logger *log.Logger, sinks ...Notifier) *Multi {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Multi{sinks: sinks, logger: logger}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Notify(event Event) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Notify(event); err != nil {
			m.logger.Printf("sink %s failed: %v", sink.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
