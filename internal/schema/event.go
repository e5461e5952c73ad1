// Package schema defines the canonical event and threat shapes for netsentry.
// All watched log lines are normalized to NetworkEvent before queueing.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// NetworkEvent is the canonical representation of a single security-relevant
// network observation, regardless of which log family produced it.
type NetworkEvent struct {
	// Required fields
	EventID   uuid.UUID `json:"event_id" validate:"required"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	SourceIP  string    `json:"source_ip" validate:"required,ip"`
	DestIP    string    `json:"dest_ip" validate:"required,ip"`
	EventType EventType `json:"event_type" validate:"required"`

	// Optional fields
	SourcePort   *uint16  `json:"source_port,omitempty"`
	DestPort     *uint16  `json:"dest_port,omitempty"`
	Protocol     string   `json:"protocol,omitempty" validate:"max=32"`
	SeverityHint Severity `json:"severity_hint,omitempty"`
	Description  string   `json:"description,omitempty" validate:"max=1024"`

	// Raw is the original unparsed record, retained for audit and re-analysis.
	Raw string `json:"raw,omitempty" validate:"max=65536"`
}

// EventType identifies the originating source format of an event.
type EventType string

const (
	EventIDSAlert EventType = "ids_alert"
	EventConn     EventType = "conn"
	EventDNS      EventType = "dns"
	EventHTTP     EventType = "http"
	EventTLS      EventType = "tls"
)

// IsValid checks if the event type is a valid value.
func (e EventType) IsValid() bool {
	switch e {
	case EventIDSAlert, EventConn, EventDNS, EventHTTP, EventTLS:
		return true
	}
	return false
}

// Severity is a coarse severity level. On a NetworkEvent it is advisory only;
// the analysis stage is authoritative.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns the ordering of a severity, higher is more severe.
// Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Port returns a pointer to p, for the optional port fields.
func Port(p uint16) *uint16 {
	return &p
}
