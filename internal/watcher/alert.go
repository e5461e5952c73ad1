package watcher

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"netsentry/internal/schema"
)

// alertPattern matches single-line IDS alerts of the form:
//
//	[1:2100498:7] GPL CHAT IRC privmsg command [**] [Priority: 3] 01/28-22:26:04.877970 192.168.1.100:1024 -> 192.168.1.1:6667
var alertPattern = regexp.MustCompile(
	`^\[(\d+:\d+:\d+)\]\s+(.+?)\s+\[\*\*\]\s+(?:\[.*?\]\s+)?\[Priority:\s*(\d+)\]\s+(\d+/\d+-\d+:\d+:\d+\.\d+)\s+(\S+)\s+->\s+(\S+)\s*$`)

// alertTimeLayout is the IDS alert timestamp format; it carries no year.
const alertTimeLayout = "01/02-15:04:05.000000"

// prioritySeverity maps IDS alert priorities to severity hints. Any other
// priority value maps to medium.
var prioritySeverity = map[int]schema.Severity{
	1: schema.SeverityCritical,
	2: schema.SeverityHigh,
	3: schema.SeverityMedium,
	4: schema.SeverityLow,
}

// AlertParser parses Snort-style bracketed IDS alert lines.
type AlertParser struct{}

// NewAlertParser creates a parser for IDS alert logs.
func NewAlertParser() *AlertParser {
	return &AlertParser{}
}

// EventType returns the source format tag for IDS alerts.
func (p *AlertParser) EventType() schema.EventType {
	return schema.EventIDSAlert
}

// ParseLine parses one alert line. Lines not matching the alert pattern
// yield nil; malformed and partial lines are expected during file rotation.
func (p *AlertParser) ParseLine(line string) *schema.NetworkEvent {
	m := alertPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil
	}

	description := m[2]
	priority, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}

	severity, ok := prioritySeverity[priority]
	if !ok {
		severity = schema.SeverityMedium
	}

	sourceIP, sourcePort := splitEndpoint(m[5])
	destIP, destPort := splitEndpoint(m[6])
	if sourceIP == "" || destIP == "" {
		return nil
	}

	return &schema.NetworkEvent{
		EventID:      uuid.New(),
		Timestamp:    parseAlertTime(m[4]),
		SourceIP:     sourceIP,
		DestIP:       destIP,
		SourcePort:   sourcePort,
		DestPort:     destPort,
		Protocol:     "tcp",
		EventType:    schema.EventIDSAlert,
		SeverityHint: severity,
		Description:  description,
		Raw:          line,
	}
}

// parseAlertTime parses the yearless alert timestamp, assuming the current
// year. Falls back to ingestion time when the source timestamp is
// unparseable.
func parseAlertTime(s string) time.Time {
	ts, err := time.ParseInLocation(alertTimeLayout, s, time.Local)
	if err != nil {
		return time.Now().UTC()
	}
	now := time.Now()
	ts = ts.AddDate(now.Year(), 0, 0)
	// A log written just before new year can carry last year's date.
	if ts.After(now.Add(24 * time.Hour)) {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts.UTC()
}

// splitEndpoint splits an "ip", "ip:port", or "[ipv6]:port" endpoint.
// Returns an empty IP when the endpoint is not a valid address.
func splitEndpoint(s string) (string, *uint16) {
	if host, portStr, err := net.SplitHostPort(s); err == nil {
		if net.ParseIP(host) == nil {
			return "", nil
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return host, nil
		}
		return host, schema.Port(uint16(port))
	}

	if net.ParseIP(s) != nil {
		return s, nil
	}
	return "", nil
}
