package processor

import (
	"context"

	"github.com/google/uuid"

	"netsentry/internal/schema"
)

// Verdict is the analysis contract's determination for one event.
type Verdict struct {
	IsThreat     bool              `json:"is_threat"`
	ThreatType   schema.ThreatType `json:"threat_type,omitempty"`
	Severity     schema.Severity   `json:"severity,omitempty"`
	Confidence   float64           `json:"confidence"`
	ModelVersion string            `json:"model_version,omitempty"`
	Indicators   map[string]string `json:"indicators,omitempty"`
	Details      map[string]any    `json:"details,omitempty"`
}

// Analyzer is the analysis contract. Implementations are I/O bound and may
// fail or time out; a timeout is "no verdict", never "benign".
type Analyzer interface {
	Analyze(ctx context.Context, event *schema.NetworkEvent) (*Verdict, error)
}

// ResponseResult reports what the response contract did for a threat.
type ResponseResult struct {
	Success      bool     `json:"success"`
	ActionsTaken []string `json:"actions_taken,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Responder is the response contract. It must be idempotent-safe: the same
// threat id may be submitted more than once on retry.
type Responder interface {
	HandleThreat(ctx context.Context, threat *schema.Threat) (*ResponseResult, error)
}

// ThreatWriter persists threat records. One statement per create or
// transition; no transaction spans the analysis or response calls.
type ThreatWriter interface {
	Insert(ctx context.Context, threat *schema.Threat) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status schema.ThreatStatus, responseStatus string, actions []string) error
}

// IntelLookup resolves an indicator value (IP, domain, hash) against threat
// intelligence. A nil indicator with nil error means no match.
type IntelLookup interface {
	Lookup(ctx context.Context, value string) (*schema.ThreatIndicator, error)
}

// AuditSink receives structured security-audit events.
type AuditSink interface {
	Emit(ctx context.Context, eventType string, details map[string]any)
}

// ThreatArchiver receives confirmed threats for long-term cold storage.
// Archival is best effort and must not block the pipeline.
type ThreatArchiver interface {
	Append(ctx context.Context, threat *schema.Threat) error
}
