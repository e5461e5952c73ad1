// Package pipeline assembles watchers, the event queue, and the processor
// into one supervised unit with a single start/stop lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"netsentry/internal/config"
	"netsentry/internal/metrics"
	"netsentry/internal/processor"
	"netsentry/internal/queue"
	"netsentry/internal/schema"
	"netsentry/internal/watcher"
)

// ErrNoSources is returned when no configured source file exists at startup.
var ErrNoSources = errors.New("pipeline: no usable log sources")

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// Supervisor owns the full detection pipeline. A Supervisor runs at most
// one lifecycle; construct a new one to restart.
type Supervisor struct {
	cfg       *config.Config
	queue     *queue.RingBuffer
	processor *processor.Processor
	watchers  []*watcher.Watcher
	audit     processor.AuditSink
	logger    *slog.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc

	watcherWG sync.WaitGroup
	gaugeDone chan struct{}
}

// New builds a Supervisor from configuration. Watchers are created for each
// source file that exists; absent files are skipped with a warning. It is an
// error for every source to be absent.
func New(cfg *config.Config, analyzer processor.Analyzer, responder processor.Responder) (*Supervisor, error) {
	logger := slog.With("component", "pipeline")

	q := queue.NewRingBuffer(cfg.Queue.Size)
	validator := schema.NewValidatorWithConfig(schema.ValidatorConfig{
		MaxAge:    cfg.Validation.MaxEventAge,
		MaxFuture: cfg.Validation.MaxFuture,
	})
	// IDS fast-alert timestamps carry no year, so an age bound would
	// silently drop replayed or months-old lines. Future bound still holds.
	alertValidator := schema.NewValidatorWithConfig(schema.ValidatorConfig{
		MaxAge:    0,
		MaxFuture: cfg.Validation.MaxFuture,
	})

	s := &Supervisor{
		cfg:       cfg,
		queue:     q,
		processor: processor.New(q, analyzer, responder, cfg.Processor),
		logger:    logger,
		gaugeDone: make(chan struct{}),
	}

	if path := cfg.Sources.AlertFile; path != "" {
		if sourceExists(path) {
			w := watcher.New("ids_alert", path, watcher.NewAlertParser(), q, alertValidator, cfg.Sources.Watcher)
			s.watchers = append(s.watchers, w)
		} else {
			logger.Warn("alert file absent, source skipped", "path", path)
		}
	}

	for _, stem := range cfg.Sources.ZeekLogs {
		parser, ok := watcher.ParserForStem(stem)
		if !ok {
			return nil, fmt.Errorf("pipeline: unknown zeek log type %q", stem)
		}
		path := filepath.Join(cfg.Sources.ZeekDir, stem+".log")
		if !sourceExists(path) {
			logger.Warn("zeek log absent, source skipped", "path", path)
			continue
		}
		w := watcher.New(stem, path, parser, q, validator, cfg.Sources.Watcher)
		s.watchers = append(s.watchers, w)
	}

	if len(s.watchers) == 0 {
		return nil, ErrNoSources
	}

	return s, nil
}

// WithStore sets the threat persistence store.
func (s *Supervisor) WithStore(store processor.ThreatWriter) *Supervisor {
	s.processor.WithStore(store)
	return s
}

// WithIntel sets the threat-intelligence lookup.
func (s *Supervisor) WithIntel(intel processor.IntelLookup) *Supervisor {
	s.processor.WithIntel(intel)
	return s
}

// WithAudit sets the security-audit sink.
func (s *Supervisor) WithAudit(sink processor.AuditSink) *Supervisor {
	s.audit = sink
	s.processor.WithAudit(sink)
	return s
}

// WithArchive sets the cold-storage archiver.
func (s *Supervisor) WithArchive(archive processor.ThreatArchiver) *Supervisor {
	s.processor.WithArchive(archive)
	return s
}

// Start launches the processor workers and one goroutine per watcher.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	// Position every tailer before reporting started: lines appended from
	// this point on are delivered even if they land before the first poll.
	for _, w := range s.watchers {
		if err := w.Open(); err != nil {
			s.logger.Warn("source unreadable at startup, watcher will retry",
				"watcher", w.Name(), "error", err)
		}
	}

	s.processor.Start(runCtx)

	for _, w := range s.watchers {
		s.watcherWG.Add(1)
		go func(w *watcher.Watcher) {
			defer s.watcherWG.Done()
			w.Run(runCtx)
		}(w)
	}

	go s.updateGauges()

	metrics.PipelineUp.Set(1)
	if s.audit != nil {
		s.audit.Emit(runCtx, "monitoring_started", map[string]any{
			"sources":    len(s.watchers),
			"queue_size": s.queue.Cap(),
			"workers":    s.cfg.Processor.Workers,
		})
	}

	s.logger.Info("pipeline started",
		"sources", len(s.watchers),
		"queue_size", s.queue.Cap(),
		"workers", s.cfg.Processor.Workers,
	)
	return nil
}

// Stop shuts the pipeline down. Watchers stop first so no new events
// arrive; queued events are then drained or discarded per configuration,
// and finally the workers finish their in-flight events.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("pipeline stopping")

	for _, w := range s.watchers {
		w.Stop()
	}
	s.watcherWG.Wait()

	if s.cfg.Pipeline.DrainOnStop && s.drain(ctx) {
		// Drained: let in-flight events finish under a live context,
		// then release the workers.
		s.queue.Close()
		s.processor.Stop()
		cancel()
	} else {
		// Discarding: cancel first so workers stop consuming, then
		// close the queue and collect them.
		if n := s.queue.Len(); n > 0 {
			s.logger.Warn("discarding queued events", "count", n)
		}
		cancel()
		s.queue.Close()
		s.processor.Stop()
	}
	close(s.gaugeDone)

	metrics.PipelineUp.Set(0)
	if s.audit != nil {
		stats := s.Stats()
		s.audit.Emit(context.WithoutCancel(ctx), "monitoring_stopped", map[string]any{
			"events_processed": stats.EventsProcessed,
			"threats_detected": stats.ThreatsDetected,
			"events_dropped":   stats.EventsDropped,
		})
	}

	s.logger.Info("pipeline stopped")
}

// drain waits for the queue to empty, bounded by the drain timeout.
// It reports whether the queue was fully drained.
func (s *Supervisor) drain(ctx context.Context) bool {
	timeout := s.cfg.Pipeline.DrainTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for !s.queue.IsEmpty() {
		if time.Now().After(deadline) {
			s.logger.Warn("drain timed out, discarding queued events",
				"remaining", s.queue.Len())
			return false
		}
		select {
		case <-ctx.Done():
			s.logger.Warn("drain cancelled, discarding queued events",
				"remaining", s.queue.Len())
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return true
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	IsRunning        bool    `json:"is_running"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Sources          int     `json:"sources"`
	QueueDepth       int     `json:"queue_depth"`
	EventsProcessed  uint64  `json:"events_processed"`
	ThreatsDetected  uint64  `json:"threats_detected"`
	FalsePositives   uint64  `json:"false_positives"`
	AnalysisFailures uint64  `json:"analysis_failures"`
	ResponseFailures uint64  `json:"response_failures"`
	EventsDropped    uint64  `json:"events_dropped"`
}

// Running reports whether the pipeline is started and not yet stopped.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns current pipeline statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	s.mu.Unlock()

	var uptime float64
	if running {
		uptime = time.Since(startedAt).Seconds()
	}

	pm := s.processor.Metrics()
	qm := s.queue.Metrics()

	return Stats{
		IsRunning:        running,
		UptimeSeconds:    uptime,
		Sources:          len(s.watchers),
		QueueDepth:       qm.Depth,
		EventsProcessed:  pm.EventsProcessed,
		ThreatsDetected:  pm.ThreatsDetected,
		FalsePositives:   pm.FalsePositives,
		AnalysisFailures: pm.AnalysisFailures,
		ResponseFailures: pm.ResponseFailures,
		EventsDropped:    qm.Dropped,
	}
}

// updateGauges keeps the queue depth gauge current while running.
func (s *Supervisor) updateGauges() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.QueueDepth.Set(float64(s.queue.Len()))
		case <-s.gaugeDone:
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

func sourceExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
