package schema

import "time"

// IOCType identifies the kind of indicator an intelligence entry describes.
type IOCType string

const (
	IOCIP     IOCType = "ip"
	IOCDomain IOCType = "domain"
	IOCHash   IOCType = "hash"
	IOCURL    IOCType = "url"
)

// ThreatIndicator is a threat-intelligence entry mapping an indicator of
// compromise to known threat context. Read-mostly reference data, sourced
// from external feeds.
type ThreatIndicator struct {
	IOCType  IOCType `json:"ioc_type"`
	IOCValue string  `json:"ioc_value"`

	ThreatType  ThreatType `json:"threat_type,omitempty"`
	Severity    Severity   `json:"severity,omitempty"`
	Description string     `json:"description,omitempty"`

	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	FirstSeen  time.Time `json:"first_seen,omitempty"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
}
