package watcher

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"netsentry/internal/schema"
)

// Zeek-style TSV logs share a common prefix of columns:
//
//	ts  uid  id.orig_h  id.orig_p  id.resp_h  id.resp_p  ...
//
// followed by format-specific columns. The indexes below address fields
// past the shared prefix for each log family.
const (
	zeekFieldTS         = 0
	zeekFieldOrigHost   = 2
	zeekFieldOrigPort   = 3
	zeekFieldRespHost   = 4
	zeekFieldRespPort   = 5
	zeekMinFields       = 6
	zeekConnProto       = 6
	zeekConnService     = 7
	zeekDNSQuery        = 9
	zeekHTTPMethod      = 7
	zeekHTTPHost        = 8
	zeekHTTPURI         = 9
	zeekTLSVersion      = 6
	zeekTLSServerName   = 9
	zeekEmptyFieldValue = "-"
)

// ZeekParser parses one family of Zeek-style tab-separated logs. The event
// type selects the format-specific columns used for the description.
type ZeekParser struct {
	eventType schema.EventType
}

// NewZeekParser creates a parser for the given structured-log family.
func NewZeekParser(eventType schema.EventType) *ZeekParser {
	return &ZeekParser{eventType: eventType}
}

// EventType returns the source format tag for this log family.
func (p *ZeekParser) EventType() schema.EventType {
	return p.eventType
}

// ParseLine parses one TSV record. Comment/header lines (leading '#'),
// blank lines, and records with too few fields yield nil.
func (p *ZeekParser) ParseLine(line string) *schema.NetworkEvent {
	line = strings.TrimRight(line, "\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	fields := strings.Split(line, "\t")
	if len(fields) < zeekMinFields {
		return nil
	}

	sourceIP := zeekField(fields, zeekFieldOrigHost)
	destIP := zeekField(fields, zeekFieldRespHost)
	if net.ParseIP(sourceIP) == nil || net.ParseIP(destIP) == nil {
		return nil
	}

	event := &schema.NetworkEvent{
		EventID:      uuid.New(),
		Timestamp:    parseZeekTime(zeekField(fields, zeekFieldTS)),
		SourceIP:     sourceIP,
		DestIP:       destIP,
		SourcePort:   parseZeekPort(zeekField(fields, zeekFieldOrigPort)),
		DestPort:     parseZeekPort(zeekField(fields, zeekFieldRespPort)),
		EventType:    p.eventType,
		SeverityHint: schema.SeverityLow,
		Raw:          line,
	}

	switch p.eventType {
	case schema.EventConn:
		event.Protocol = strings.ToLower(zeekField(fields, zeekConnProto))
		event.Description = fmt.Sprintf("connection %s -> %s service=%s",
			sourceIP, destIP, zeekField(fields, zeekConnService))
	case schema.EventDNS:
		event.Protocol = "udp"
		event.Description = fmt.Sprintf("dns query %q from %s",
			zeekField(fields, zeekDNSQuery), sourceIP)
	case schema.EventHTTP:
		event.Protocol = "tcp"
		event.Description = fmt.Sprintf("http %s %s%s",
			zeekField(fields, zeekHTTPMethod),
			zeekField(fields, zeekHTTPHost),
			zeekField(fields, zeekHTTPURI))
	case schema.EventTLS:
		event.Protocol = "tcp"
		event.Description = fmt.Sprintf("tls handshake %s sni=%s",
			zeekField(fields, zeekTLSVersion),
			zeekField(fields, zeekTLSServerName))
	default:
		return nil
	}

	return event
}

// zeekField returns the field at idx, or empty for out-of-range and the
// Zeek unset marker.
func zeekField(fields []string, idx int) string {
	if idx >= len(fields) {
		return ""
	}
	if fields[idx] == zeekEmptyFieldValue {
		return ""
	}
	return fields[idx]
}

// parseZeekTime parses an epoch-seconds timestamp with fractional part.
// Falls back to ingestion time for unparseable values.
func parseZeekTime(s string) time.Time {
	epoch, err := strconv.ParseFloat(s, 64)
	if err != nil || epoch <= 0 {
		return time.Now().UTC()
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func parseZeekPort(s string) *uint16 {
	if s == "" {
		return nil
	}
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return nil
	}
	return schema.Port(uint16(port))
}
