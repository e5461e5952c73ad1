package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"netsentry/internal/queue"
	"netsentry/internal/schema"
)

type mockAnalyzer struct {
	mu      sync.Mutex
	calls   int
	verdict *Verdict
	errs    []error // consumed per call; nil entry means success
}

func (m *mockAnalyzer) Analyze(ctx context.Context, event *schema.NetworkEvent) (*Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.calls
	m.calls++
	if call < len(m.errs) && m.errs[call] != nil {
		return nil, m.errs[call]
	}
	return m.verdict, nil
}

func (m *mockAnalyzer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockResponder struct {
	mu      sync.Mutex
	calls   int
	results []*ResponseResult // consumed per call
	errs    []error
}

func (m *mockResponder) HandleThreat(ctx context.Context, threat *schema.Threat) (*ResponseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.calls
	m.calls++
	if call < len(m.errs) && m.errs[call] != nil {
		return nil, m.errs[call]
	}
	if call < len(m.results) {
		return m.results[call], nil
	}
	return &ResponseResult{Success: true, ActionsTaken: []string{"block_ip"}}, nil
}

func (m *mockResponder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockStore struct {
	mu       sync.Mutex
	inserted []*schema.Threat
	updates  []schema.ThreatStatus
	respStat []string
}

func (m *mockStore) Insert(ctx context.Context, threat *schema.Threat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *threat
	m.inserted = append(m.inserted, &copied)
	return nil
}

func (m *mockStore) UpdateStatus(ctx context.Context, id uuid.UUID, status schema.ThreatStatus, responseStatus string, actions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, status)
	m.respStat = append(m.respStat, responseStatus)
	return nil
}

type mockIntel struct {
	indicators map[string]*schema.ThreatIndicator
	err        error
}

func (m *mockIntel) Lookup(ctx context.Context, value string) (*schema.ThreatIndicator, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.indicators[value], nil
}

type mockAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *mockAudit) Emit(ctx context.Context, eventType string, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.PollInterval = 5 * time.Millisecond
	cfg.AnalysisTimeout = 100 * time.Millisecond
	cfg.ResponseTimeout = 100 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	cfg.ShutdownWait = time.Second
	return cfg
}

func testEvent() *schema.NetworkEvent {
	return &schema.NetworkEvent{
		EventID:      uuid.New(),
		Timestamp:    time.Now().UTC(),
		SourceIP:     "192.168.1.100",
		DestIP:       "10.0.0.1",
		SourcePort:   schema.Port(1024),
		DestPort:     schema.Port(6667),
		Protocol:     "tcp",
		EventType:    schema.EventIDSAlert,
		SeverityHint: schema.SeverityMedium,
		Description:  "suspicious irc traffic",
		Raw:          "raw line",
	}
}

func threatVerdict() *Verdict {
	return &Verdict{
		IsThreat:     true,
		ThreatType:   schema.ThreatBotnet,
		Severity:     schema.SeverityHigh,
		Confidence:   0.92,
		ModelVersion: "v2.1",
		Details:      map[string]any{"rule": "irc-c2"},
	}
}

func TestProcessor_PositiveVerdictCreatesThreat(t *testing.T) {
	q := queue.NewRingBuffer(10)
	analyzer := &mockAnalyzer{verdict: threatVerdict()}
	responder := &mockResponder{}
	store := &mockStore{}
	sink := &mockAudit{}

	p := New(q, analyzer, responder, testConfig()).WithStore(store).WithAudit(sink)
	p.processEvent(context.Background(), testEvent())

	if len(store.inserted) != 1 {
		t.Fatalf("inserted %d threats, want 1", len(store.inserted))
	}
	threat := store.inserted[0]
	if threat.Status != schema.StatusConfirmed {
		t.Errorf("inserted Status = %s, want confirmed", threat.Status)
	}
	if threat.Type != schema.ThreatBotnet {
		t.Errorf("Type = %s, want botnet", threat.Type)
	}
	if threat.AIConfidence != 0.92 {
		t.Errorf("AIConfidence = %f, want 0.92", threat.AIConfidence)
	}
	if threat.SourceIP != "192.168.1.100" || threat.DestIP != "10.0.0.1" {
		t.Errorf("network context not copied: %s -> %s", threat.SourceIP, threat.DestIP)
	}

	// Response succeeded: status converges to mitigated.
	if len(store.updates) != 1 || store.updates[0] != schema.StatusMitigated {
		t.Errorf("updates = %v, want [mitigated]", store.updates)
	}
	if store.respStat[0] != "completed" {
		t.Errorf("response status = %s, want completed", store.respStat[0])
	}

	// Audit emitted unconditionally for the confirmed threat.
	if len(sink.events) != 1 || sink.events[0] != "threat_detected" {
		t.Errorf("audit events = %v, want [threat_detected]", sink.events)
	}

	m := p.Metrics()
	if m.ThreatsDetected != 1 || m.EventsProcessed != 1 || m.FalsePositives != 0 {
		t.Errorf("Metrics() = %+v", m)
	}
}

func TestProcessor_NegativeVerdictCreatesNothing(t *testing.T) {
	q := queue.NewRingBuffer(10)
	analyzer := &mockAnalyzer{verdict: &Verdict{IsThreat: false, Confidence: 0.1}}
	responder := &mockResponder{}
	store := &mockStore{}

	p := New(q, analyzer, responder, testConfig()).WithStore(store)
	p.processEvent(context.Background(), testEvent())

	if len(store.inserted) != 0 {
		t.Errorf("inserted %d threats, want 0", len(store.inserted))
	}
	if responder.callCount() != 0 {
		t.Errorf("responder called %d times, want 0", responder.callCount())
	}

	m := p.Metrics()
	if m.FalsePositives != 1 {
		t.Errorf("FalsePositives = %d, want 1", m.FalsePositives)
	}
	if m.ThreatsDetected != 0 {
		t.Errorf("ThreatsDetected = %d, want 0", m.ThreatsDetected)
	}
}

func TestProcessor_AnalysisRetryExhaustion(t *testing.T) {
	q := queue.NewRingBuffer(10)
	timeout := errors.New("analysis timeout")
	analyzer := &mockAnalyzer{errs: []error{timeout, timeout, timeout}}
	responder := &mockResponder{}
	store := &mockStore{}

	cfg := testConfig()
	cfg.AnalysisRetries = 3

	p := New(q, analyzer, responder, cfg).WithStore(store)
	p.processEvent(context.Background(), testEvent())

	if analyzer.callCount() != 3 {
		t.Errorf("analyzer called %d times, want 3", analyzer.callCount())
	}
	if len(store.inserted) != 0 {
		t.Errorf("inserted %d threats, want 0", len(store.inserted))
	}

	m := p.Metrics()
	if m.AnalysisFailures != 1 {
		t.Errorf("AnalysisFailures = %d, want 1", m.AnalysisFailures)
	}
	if m.FalsePositives != 0 {
		t.Error("analysis failure must not be counted as benign")
	}
}

func TestProcessor_AnalysisRecoversOnRetry(t *testing.T) {
	q := queue.NewRingBuffer(10)
	analyzer := &mockAnalyzer{
		verdict: threatVerdict(),
		errs:    []error{errors.New("transient"), nil},
	}
	store := &mockStore{}

	p := New(q, analyzer, &mockResponder{}, testConfig()).WithStore(store)
	p.processEvent(context.Background(), testEvent())

	if analyzer.callCount() != 2 {
		t.Errorf("analyzer called %d times, want 2", analyzer.callCount())
	}
	if len(store.inserted) != 1 {
		t.Errorf("inserted %d threats, want 1", len(store.inserted))
	}
	if p.Metrics().AnalysisFailures != 0 {
		t.Error("recovered analysis counted as failure")
	}
}

func TestProcessor_ResponseFailureKeepsThreatConfirmed(t *testing.T) {
	q := queue.NewRingBuffer(10)
	analyzer := &mockAnalyzer{verdict: threatVerdict()}
	boom := errors.New("response engine unreachable")
	responder := &mockResponder{errs: []error{boom, boom, boom}}
	store := &mockStore{}

	p := New(q, analyzer, responder, testConfig()).WithStore(store)
	p.processEvent(context.Background(), testEvent())

	if responder.callCount() != 3 {
		t.Errorf("responder called %d times, want 3", responder.callCount())
	}
	if len(store.updates) != 1 || store.updates[0] != schema.StatusConfirmed {
		t.Errorf("updates = %v, want threat kept confirmed", store.updates)
	}
	if store.respStat[0] != "failed" {
		t.Errorf("response status = %s, want failed", store.respStat[0])
	}
	if p.Metrics().ResponseFailures != 1 {
		t.Errorf("ResponseFailures = %d, want 1", p.Metrics().ResponseFailures)
	}
	// The threat was still detected and inserted; remediation failure never
	// removes it.
	if len(store.inserted) != 1 {
		t.Errorf("inserted %d threats, want 1", len(store.inserted))
	}
}

func TestProcessor_ResponseRetryConvergesToMitigated(t *testing.T) {
	q := queue.NewRingBuffer(10)
	analyzer := &mockAnalyzer{verdict: threatVerdict()}
	// First attempt errors (the action may or may not have landed), second
	// succeeds: the retried success must converge to a single mitigated
	// state, not an error.
	responder := &mockResponder{
		errs:    []error{errors.New("timeout"), nil},
		results: []*ResponseResult{nil, {Success: true, ActionsTaken: []string{"block_ip"}}},
	}
	store := &mockStore{}

	p := New(q, analyzer, responder, testConfig()).WithStore(store)
	p.processEvent(context.Background(), testEvent())

	if responder.callCount() != 2 {
		t.Errorf("responder called %d times, want 2", responder.callCount())
	}
	if len(store.updates) != 1 || store.updates[0] != schema.StatusMitigated {
		t.Errorf("updates = %v, want single mitigated transition", store.updates)
	}
	if p.Metrics().ResponseFailures != 0 {
		t.Errorf("ResponseFailures = %d, want 0", p.Metrics().ResponseFailures)
	}
}

func TestProcessor_IntelEnrichmentEscalatesSeverity(t *testing.T) {
	q := queue.NewRingBuffer(10)
	verdict := threatVerdict()
	verdict.Severity = schema.SeverityMedium
	analyzer := &mockAnalyzer{verdict: verdict}
	store := &mockStore{}
	intel := &mockIntel{indicators: map[string]*schema.ThreatIndicator{
		"10.0.0.1": {
			IOCType:  schema.IOCIP,
			IOCValue: "10.0.0.1",
			Severity: schema.SeverityCritical,
			Source:   "misp",
		},
	}}

	p := New(q, analyzer, &mockResponder{}, testConfig()).WithStore(store).WithIntel(intel)
	p.processEvent(context.Background(), testEvent())

	if len(store.inserted) != 1 {
		t.Fatal("no threat inserted")
	}
	threat := store.inserted[0]
	if threat.Severity != schema.SeverityCritical {
		t.Errorf("Severity = %s, want critical after intel match", threat.Severity)
	}
	if threat.Indicators["ip"] != "10.0.0.1" {
		t.Errorf("Indicators = %v, want ip indicator recorded", threat.Indicators)
	}
}

func TestProcessor_IntelFailureDoesNotFailEvent(t *testing.T) {
	q := queue.NewRingBuffer(10)
	analyzer := &mockAnalyzer{verdict: threatVerdict()}
	store := &mockStore{}
	intel := &mockIntel{err: errors.New("redis down")}

	p := New(q, analyzer, &mockResponder{}, testConfig()).WithStore(store).WithIntel(intel)
	p.processEvent(context.Background(), testEvent())

	if len(store.inserted) != 1 {
		t.Error("intel failure must not drop the threat")
	}
}

func TestProcessor_WorkerLoop(t *testing.T) {
	q := queue.NewRingBuffer(10)
	analyzer := &mockAnalyzer{verdict: &Verdict{IsThreat: false}}

	p := New(q, analyzer, &mockResponder{}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for i := 0; i < 5; i++ {
		if err := q.Push(testEvent()); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Metrics().EventsProcessed == 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()

	m := p.Metrics()
	if m.EventsProcessed != 5 {
		t.Errorf("EventsProcessed = %d, want 5", m.EventsProcessed)
	}
	if m.FalsePositives != 5 {
		t.Errorf("FalsePositives = %d, want 5", m.FalsePositives)
	}
}
