// Package processor drains the event queue and drives each event through the
// analyze, persist, respond sequence.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"netsentry/internal/metrics"
	"netsentry/internal/queue"
	"netsentry/internal/schema"
)

// Config holds the processor configuration.
type Config struct {
	Workers         int           `yaml:"workers"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ShutdownWait    time.Duration `yaml:"shutdown_wait"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`
	AnalysisRetries int           `yaml:"analysis_retries"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ResponseRetries int           `yaml:"response_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         10,
		PollInterval:    50 * time.Millisecond,
		ShutdownWait:    30 * time.Second,
		AnalysisTimeout: 10 * time.Second,
		AnalysisRetries: 3,
		ResponseTimeout: 30 * time.Second,
		ResponseRetries: 3,
		RetryDelay:      time.Second,
	}
}

// Processor runs a fixed pool of workers consuming the queue. Counters use
// atomics because multiple workers update them concurrently. Failures in
// analysis or response for one event are contained within that event.
type Processor struct {
	queue     *queue.RingBuffer
	analyzer  Analyzer
	responder Responder
	store     ThreatWriter
	intel     IntelLookup
	audit     AuditSink
	archive   ThreatArchiver
	config    Config
	logger    *slog.Logger

	wg   sync.WaitGroup
	done chan struct{}

	// Metrics (accessed atomically)
	eventsProcessed  uint64
	threatsDetected  uint64
	falsePositives   uint64
	analysisFailures uint64
	responseFailures uint64
	storageFailures  uint64
}

// New creates a Processor. store, intel, audit, and archive may be nil; the
// corresponding step is skipped (used in development and tests).
func New(q *queue.RingBuffer, analyzer Analyzer, responder Responder, cfg Config) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Processor{
		queue:     q,
		analyzer:  analyzer,
		responder: responder,
		config:    cfg,
		logger:    slog.With("component", "processor"),
		done:      make(chan struct{}),
	}
}

// WithStore sets the threat persistence store.
func (p *Processor) WithStore(store ThreatWriter) *Processor {
	p.store = store
	return p
}

// WithIntel sets the threat-intelligence lookup used for enrichment.
func (p *Processor) WithIntel(intel IntelLookup) *Processor {
	p.intel = intel
	return p
}

// WithAudit sets the security-audit sink.
func (p *Processor) WithAudit(sink AuditSink) *Processor {
	p.audit = sink
	return p
}

// WithArchive sets the cold-storage archiver for confirmed threats.
func (p *Processor) WithArchive(archive ThreatArchiver) *Processor {
	p.archive = archive
	return p
}

// Start starts the worker pool.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("event processor started", "workers", p.config.Workers)
}

// worker is a single processing goroutine.
func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		default:
			event, err := p.queue.PopWithTimeout(p.config.PollInterval)
			if err != nil {
				if err == queue.ErrQueueEmpty {
					continue
				}
				if err == queue.ErrQueueClosed {
					return
				}
				p.logger.Warn("unexpected queue error", "worker_id", id, "error", err)
				continue
			}

			p.processEvent(ctx, event)
		}
	}
}

// processEvent runs one event through analysis, persistence, and response.
// It never panics out or returns an error: every failure mode is contained
// so the worker keeps consuming subsequent events.
func (p *Processor) processEvent(ctx context.Context, event *schema.NetworkEvent) {
	defer func() {
		atomic.AddUint64(&p.eventsProcessed, 1)
		metrics.EventsProcessed.Inc()
	}()

	verdict, err := p.analyzeWithRetry(ctx, event)
	if err != nil {
		// Exhausted retries: drop with a warning, never treat as benign.
		atomic.AddUint64(&p.analysisFailures, 1)
		metrics.AnalysisFailures.Inc()
		p.logger.Warn("analysis failed, event dropped",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"source_ip", event.SourceIP,
			"error", err,
		)
		return
	}

	if !verdict.IsThreat {
		atomic.AddUint64(&p.falsePositives, 1)
		metrics.FalsePositives.Inc()
		return
	}

	threat := p.buildThreat(event, verdict)
	p.enrich(ctx, threat)
	p.persist(ctx, threat)

	p.respond(ctx, threat)

	if p.archive != nil {
		if err := p.archive.Append(ctx, threat); err != nil {
			p.logger.Debug("archive append failed", "threat_id", threat.ID, "error", err)
		}
	}

	if p.audit != nil {
		p.audit.Emit(ctx, "threat_detected", map[string]any{
			"threat_id":  threat.ID.String(),
			"type":       string(threat.Type),
			"severity":   string(threat.Severity),
			"source_ip":  threat.SourceIP,
			"confidence": threat.AIConfidence,
		})
	}

	atomic.AddUint64(&p.threatsDetected, 1)
	metrics.ThreatsDetected.Inc()

	p.logger.Info("threat confirmed",
		"threat_id", threat.ID,
		"type", threat.Type,
		"severity", threat.Severity,
		"status", threat.Status,
		"source_ip", threat.SourceIP,
		"confidence", threat.AIConfidence,
	)
}

// analyzeWithRetry invokes the analysis contract with a per-attempt timeout,
// retrying with linear backoff up to the configured attempt limit.
func (p *Processor) analyzeWithRetry(ctx context.Context, event *schema.NetworkEvent) (*Verdict, error) {
	attempts := p.config.AnalysisRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, p.config.RetryDelay*time.Duration(attempt)) {
				return nil, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.config.AnalysisTimeout)
		verdict, err := p.analyzer.Analyze(attemptCtx, event)
		cancel()

		if err != nil {
			lastErr = err
			p.logger.Debug("analysis attempt failed",
				"event_id", event.EventID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}
		if verdict == nil {
			lastErr = errors.New("analyzer returned no verdict")
			continue
		}
		return verdict, nil
	}

	return nil, lastErr
}

// buildThreat constructs a threat record from the event and verdict. Rows
// are born confirmed: detection and analysis already happened by the time a
// record exists.
func (p *Processor) buildThreat(event *schema.NetworkEvent, verdict *Verdict) *schema.Threat {
	now := time.Now().UTC()

	threatType := verdict.ThreatType
	if !threatType.IsValid() {
		threatType = schema.ThreatAnomaly
	}
	severity := verdict.Severity
	if !severity.IsValid() {
		severity = event.SeverityHint
	}
	if !severity.IsValid() {
		severity = schema.SeverityMedium
	}

	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	indicators := make(map[string]string, len(verdict.Indicators))
	for k, v := range verdict.Indicators {
		indicators[k] = v
	}

	return &schema.Threat{
		ID:              uuid.New(),
		Timestamp:       event.Timestamp,
		Type:            threatType,
		Severity:        severity,
		Status:          schema.StatusConfirmed,
		SourceIP:        event.SourceIP,
		DestIP:          event.DestIP,
		SourcePort:      event.SourcePort,
		DestPort:        event.DestPort,
		Protocol:        event.Protocol,
		Description:     event.Description,
		Indicators:      indicators,
		Raw:             event.Raw,
		AIConfidence:    confidence,
		ModelVersion:    verdict.ModelVersion,
		AnalysisDetails: verdict.Details,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// enrich consults threat intelligence for the threat's endpoints. A known
// indicator escalates severity and is recorded in the indicator map. Intel
// being unavailable never fails the event.
func (p *Processor) enrich(ctx context.Context, threat *schema.Threat) {
	if p.intel == nil {
		return
	}

	for _, value := range []string{threat.SourceIP, threat.DestIP} {
		indicator, err := p.intel.Lookup(ctx, value)
		if err != nil {
			p.logger.Debug("intel lookup failed", "value", value, "error", err)
			continue
		}
		if indicator == nil {
			continue
		}

		if threat.Indicators == nil {
			threat.Indicators = make(map[string]string)
		}
		threat.Indicators[string(indicator.IOCType)] = indicator.IOCValue

		if indicator.Severity.Rank() > threat.Severity.Rank() {
			p.logger.Info("severity escalated by threat intelligence",
				"threat_id", threat.ID,
				"ioc", indicator.IOCValue,
				"intel_source", indicator.Source,
				"from", threat.Severity,
				"to", indicator.Severity,
			)
			threat.Severity = indicator.Severity
		}
	}
}

// persist writes the confirmed threat. The write uses a detached context so
// cancellation during shutdown cannot leave a half-written record.
func (p *Processor) persist(ctx context.Context, threat *schema.Threat) {
	if p.store == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.store.Insert(writeCtx, threat); err != nil {
		atomic.AddUint64(&p.storageFailures, 1)
		p.logger.Error("failed to persist threat",
			"threat_id", threat.ID,
			"error", err,
		)
	}
}

// respond invokes the response contract with per-attempt timeout and retry.
// On success the threat converges to mitigated; on exhaustion it stays
// confirmed with a failed response status. It never reverts to an earlier
// state.
func (p *Processor) respond(ctx context.Context, threat *schema.Threat) {
	attempts := p.config.ResponseRetries
	if attempts <= 0 {
		attempts = 1
	}

	var result *ResponseResult
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, p.config.RetryDelay*time.Duration(attempt)) {
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.config.ResponseTimeout)
		r, err := p.responder.HandleThreat(attemptCtx, threat)
		cancel()

		if err == nil && r == nil {
			err = errors.New("responder returned no result")
		}
		if err != nil {
			lastErr = err
			p.logger.Debug("response attempt failed",
				"threat_id", threat.ID,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}
		if !r.Success {
			lastErr = nil
			result = r
			p.logger.Debug("response reported failure",
				"threat_id", threat.ID,
				"attempt", attempt+1,
				"error", r.Error,
			)
			continue
		}

		result = r
		break
	}

	if result != nil && result.Success {
		threat.ResponseActions = append(threat.ResponseActions, result.ActionsTaken...)
		threat.ResponseStatus = "completed"
		// A retried success converges: if the threat is already mitigated
		// the transition is a no-op, not an error state.
		if threat.Status != schema.StatusMitigated {
			threat.Transition(schema.StatusMitigated)
		}
		p.updateStatus(ctx, threat)
		return
	}

	// Exhausted: the threat stays confirmed and the failure is recorded.
	// A threat must never silently vanish because remediation failed.
	atomic.AddUint64(&p.responseFailures, 1)
	metrics.ResponseFailures.Inc()
	threat.ResponseStatus = "failed"
	p.logger.Warn("response failed, threat remains confirmed",
		"threat_id", threat.ID,
		"error", lastErr,
	)
	p.updateStatus(ctx, threat)
}

// updateStatus records the threat's current status and response outcome.
// Like persist, the write is shielded from cancellation.
func (p *Processor) updateStatus(ctx context.Context, threat *schema.Threat) {
	if p.store == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.store.UpdateStatus(writeCtx, threat.ID, threat.Status, threat.ResponseStatus, threat.ResponseActions); err != nil {
		atomic.AddUint64(&p.storageFailures, 1)
		p.logger.Error("failed to update threat status",
			"threat_id", threat.ID,
			"status", threat.Status,
			"error", err,
		)
	}
}

// Stop stops the worker pool gracefully.
func (p *Processor) Stop() {
	close(p.done)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("event processor stopped gracefully")
	case <-time.After(p.config.ShutdownWait):
		p.logger.Warn("event processor shutdown timed out")
	}
}

// Metrics returns processor statistics.
func (p *Processor) Metrics() Metrics {
	return Metrics{
		EventsProcessed:  atomic.LoadUint64(&p.eventsProcessed),
		ThreatsDetected:  atomic.LoadUint64(&p.threatsDetected),
		FalsePositives:   atomic.LoadUint64(&p.falsePositives),
		AnalysisFailures: atomic.LoadUint64(&p.analysisFailures),
		ResponseFailures: atomic.LoadUint64(&p.responseFailures),
		StorageFailures:  atomic.LoadUint64(&p.storageFailures),
	}
}

// Metrics holds processor statistics.
type Metrics struct {
	EventsProcessed  uint64 `json:"events_processed"`
	ThreatsDetected  uint64 `json:"threats_detected"`
	FalsePositives   uint64 `json:"false_positives"`
	AnalysisFailures uint64 `json:"analysis_failures"`
	ResponseFailures uint64 `json:"response_failures"`
	StorageFailures  uint64 `json:"storage_failures"`
}

// sleepCtx waits for d, returning false if the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
