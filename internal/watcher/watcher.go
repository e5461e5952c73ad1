// Package watcher tails security log files and normalizes appended lines
// into canonical network events.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"netsentry/internal/metrics"
	"netsentry/internal/queue"
	"netsentry/internal/schema"
)

// Parser turns one raw log line into zero or one events. Implementations
// must be pure: a line that does not match the expected shape yields nil,
// never an error. Blank lines, headers, and partial lines from rotation are
// expected input, not failures.
type Parser interface {
	// EventType identifies the source format this parser handles.
	EventType() schema.EventType
	// ParseLine parses a single line. Returns nil for filtered input.
	ParseLine(line string) *schema.NetworkEvent
}

// Config holds configuration for a single watcher.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	// MissingBackoff is the wait between retries while the path is absent
	// or unreadable.
	MissingBackoff time.Duration `yaml:"missing_backoff"`
	// PushWait bounds how long a full queue may block this watcher before
	// the event is dropped.
	PushWait time.Duration `yaml:"push_wait"`
	// ReadExisting replays content already present at startup instead of
	// tailing from the end of the file.
	ReadExisting bool `yaml:"read_existing"`
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:   500 * time.Millisecond,
		MissingBackoff: 5 * time.Second,
		PushWait:       2 * time.Second,
		ReadExisting:   false,
	}
}

// Watcher couples one file tailer with one parser and pushes parsed events
// onto the shared queue. It runs as a single long-lived goroutine.
type Watcher struct {
	name      string
	tailer    *Tailer
	parser    Parser
	queue     *queue.RingBuffer
	validator *schema.Validator
	config    Config
	logger    *slog.Logger

	healthy atomic.Bool

	// Metrics (accessed atomically)
	linesSeen    uint64
	eventsParsed uint64
	linesSkipped uint64

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a watcher for the given path.
func New(name, path string, parser Parser, q *queue.RingBuffer, v *schema.Validator, cfg Config) *Watcher {
	w := &Watcher{
		name:      name,
		tailer:    NewTailer(path, cfg.ReadExisting),
		parser:    parser,
		queue:     q,
		validator: v,
		config:    cfg,
		logger:    slog.With("watcher", name),
		stopCh:    make(chan struct{}),
	}
	w.healthy.Store(true)
	return w
}

// Open positions the tailer at the current end of the file so that every
// line appended afterwards is delivered, even ones written before the run
// goroutine's first poll. A failed Open is not fatal: Run's poll loop
// retries with backoff.
func (w *Watcher) Open() error {
	return w.tailer.Open()
}

// Run tails the file until the context is cancelled or Stop is called.
// It never returns an error for per-line or per-read failures; those are
// contained and retried.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	defer w.tailer.Close()

	w.logger.Info("watcher started",
		"path", w.tailer.Path(),
		"event_type", w.parser.EventType(),
		"poll_interval", w.config.PollInterval,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		lines, err := w.tailer.Poll()
		if err != nil {
			// Source unavailable: degrade to unhealthy and back off,
			// never exit.
			if w.healthy.CompareAndSwap(true, false) {
				w.logger.Warn("source unavailable, backing off",
					"path", w.tailer.Path(), "error", err)
			}
			if !w.sleep(ctx, w.config.MissingBackoff) {
				return
			}
			continue
		}

		if w.healthy.CompareAndSwap(false, true) {
			w.logger.Info("source available again", "path", w.tailer.Path())
		}

		for _, line := range lines {
			w.handleLine(line)
		}

		if len(lines) == 0 {
			if !w.sleep(ctx, w.config.PollInterval) {
				return
			}
		}
	}
}

// handleLine parses, validates, and enqueues one line. Parse and validation
// failures skip the line; they never terminate the watcher.
func (w *Watcher) handleLine(line string) {
	atomic.AddUint64(&w.linesSeen, 1)

	event := w.parser.ParseLine(line)
	if event == nil {
		atomic.AddUint64(&w.linesSkipped, 1)
		w.logger.Debug("line did not match expected shape, skipped")
		return
	}

	if err := w.validator.Validate(event); err != nil {
		atomic.AddUint64(&w.linesSkipped, 1)
		w.logger.Debug("parsed event failed validation, skipped", "error", err)
		return
	}

	if err := w.queue.PushWait(event, w.config.PushWait); err != nil {
		if err == queue.ErrQueueClosed {
			return
		}
		// Counted, not logged per-occurrence, to avoid flooding under
		// sustained overload.
		metrics.EventsDropped.Inc()
		return
	}

	atomic.AddUint64(&w.eventsParsed, 1)
}

// sleep waits for d, returning false if the watcher should stop.
func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Stop signals the watcher to exit at its next suspension point. Safe to
// call at any time, including before Run; a Run that starts after Stop
// returns immediately.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Name returns the watcher's configured name.
func (w *Watcher) Name() string {
	return w.name
}

// Healthy reports whether the source was readable at last poll.
func (w *Watcher) Healthy() bool {
	return w.healthy.Load()
}

// Metrics returns watcher statistics.
func (w *Watcher) Metrics() Metrics {
	return Metrics{
		LinesSeen:    atomic.LoadUint64(&w.linesSeen),
		EventsParsed: atomic.LoadUint64(&w.eventsParsed),
		LinesSkipped: atomic.LoadUint64(&w.linesSkipped),
	}
}

// Metrics holds watcher statistics.
type Metrics struct {
	LinesSeen    uint64 `json:"lines_seen"`
	EventsParsed uint64 `json:"events_parsed"`
	LinesSkipped uint64 `json:"lines_skipped"`
}

// ParserForStem returns the parser registered for a structured-log file
// stem (conn, dns, http, ssl). An unimplemented format is an absent
// variant: the second return is false and no watcher is built for it.
func ParserForStem(stem string) (Parser, bool) {
	switch stem {
	case "conn":
		return NewZeekParser(schema.EventConn), true
	case "dns":
		return NewZeekParser(schema.EventDNS), true
	case "http":
		return NewZeekParser(schema.EventHTTP), true
	case "ssl", "tls":
		return NewZeekParser(schema.EventTLS), true
	}
	return nil, false
}
