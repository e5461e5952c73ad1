package schema

import (
	"time"

	"github.com/google/uuid"
)

// ThreatType classifies a confirmed threat.
type ThreatType string

const (
	ThreatMalware    ThreatType = "malware"
	ThreatDDoS       ThreatType = "ddos"
	ThreatIntrusion  ThreatType = "intrusion"
	ThreatDataBreach ThreatType = "data_breach"
	ThreatPortScan   ThreatType = "port_scan"
	ThreatAnomaly    ThreatType = "anomaly"
	ThreatPhishing   ThreatType = "phishing"
	ThreatBotnet     ThreatType = "botnet"
	ThreatAPT        ThreatType = "apt"
)

// IsValid checks if the threat type is a valid value.
func (t ThreatType) IsValid() bool {
	switch t {
	case ThreatMalware, ThreatDDoS, ThreatIntrusion, ThreatDataBreach,
		ThreatPortScan, ThreatAnomaly, ThreatPhishing, ThreatBotnet, ThreatAPT:
		return true
	}
	return false
}

// ThreatStatus is the lifecycle state of a threat record.
type ThreatStatus string

const (
	StatusDetected      ThreatStatus = "detected"
	StatusAnalyzing     ThreatStatus = "analyzing"
	StatusConfirmed     ThreatStatus = "confirmed"
	StatusFalsePositive ThreatStatus = "false_positive"
	StatusMitigated     ThreatStatus = "mitigated"
	StatusResolved      ThreatStatus = "resolved"
)

// IsValid checks if the status is a valid value.
func (s ThreatStatus) IsValid() bool {
	switch s {
	case StatusDetected, StatusAnalyzing, StatusConfirmed,
		StatusFalsePositive, StatusMitigated, StatusResolved:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s ThreatStatus) IsTerminal() bool {
	return s == StatusFalsePositive || s == StatusResolved
}

// statusTransitions is the threat lifecycle state machine. A record is only
// ever inserted once analysis confirms, so rows are born confirmed; detected
// and analyzing exist for in-memory phases and asynchronous analysis stages.
var statusTransitions = map[ThreatStatus][]ThreatStatus{
	StatusDetected:  {StatusAnalyzing},
	StatusAnalyzing: {StatusConfirmed, StatusFalsePositive},
	StatusConfirmed: {StatusMitigated},
	StatusMitigated: {StatusResolved},
}

// CanTransition reports whether a threat may move from one status to another.
func CanTransition(from, to ThreatStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Threat is a persistent record of a confirmed threat. It is never deleted,
// only status-transitioned.
type Threat struct {
	ID        uuid.UUID    `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Type      ThreatType   `json:"threat_type"`
	Severity  Severity     `json:"severity"`
	Status    ThreatStatus `json:"status"`

	// Network context, copied from the triggering event.
	SourceIP   string  `json:"source_ip"`
	DestIP     string  `json:"dest_ip"`
	SourcePort *uint16 `json:"source_port,omitempty"`
	DestPort   *uint16 `json:"dest_port,omitempty"`
	Protocol   string  `json:"protocol,omitempty"`

	// Evidence
	Description string            `json:"description"`
	Indicators  map[string]string `json:"indicators,omitempty"`
	Raw         string            `json:"raw,omitempty"`

	// Analysis provenance
	AIConfidence    float64        `json:"ai_confidence"`
	ModelVersion    string         `json:"model_version,omitempty"`
	AnalysisDetails map[string]any `json:"analysis_details,omitempty"`

	// Response provenance
	ResponseActions []string `json:"response_actions,omitempty"`
	ResponseStatus  string   `json:"response_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition moves the threat to a new status, updating UpdatedAt.
// Returns false and leaves the threat untouched if the transition is not
// allowed by the lifecycle machine.
func (t *Threat) Transition(to ThreatStatus) bool {
	if !CanTransition(t.Status, to) {
		return false
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return true
}
