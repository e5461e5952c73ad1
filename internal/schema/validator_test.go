package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEvent() *NetworkEvent {
	return &NetworkEvent{
		EventID:      uuid.New(),
		Timestamp:    time.Now().UTC(),
		SourceIP:     "192.168.1.100",
		DestIP:       "10.0.0.1",
		SourcePort:   Port(1024),
		DestPort:     Port(443),
		Protocol:     "tcp",
		EventType:    EventIDSAlert,
		SeverityHint: SeverityMedium,
		Description:  "test event",
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	t.Run("valid event", func(t *testing.T) {
		if err := v.Validate(validEvent()); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("valid ipv6 addresses", func(t *testing.T) {
		e := validEvent()
		e.SourceIP = "2001:db8::1"
		e.DestIP = "fe80::42"
		if err := v.Validate(e); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("icmp event without ports", func(t *testing.T) {
		e := validEvent()
		e.SourcePort = nil
		e.DestPort = nil
		e.Protocol = "icmp"
		if err := v.Validate(e); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*NetworkEvent)
	}{
		{"missing source ip", func(e *NetworkEvent) { e.SourceIP = "" }},
		{"missing dest ip", func(e *NetworkEvent) { e.DestIP = "" }},
		{"malformed source ip", func(e *NetworkEvent) { e.SourceIP = "not-an-ip" }},
		{"malformed dest ip", func(e *NetworkEvent) { e.DestIP = "999.999.999.999" }},
		{"unknown event type", func(e *NetworkEvent) { e.EventType = "syslog" }},
		{"unknown severity hint", func(e *NetworkEvent) { e.SeverityHint = "urgent" }},
		{"zero timestamp", func(e *NetworkEvent) { e.Timestamp = time.Time{} }},
		{"timestamp too old", func(e *NetworkEvent) { e.Timestamp = time.Now().UTC().Add(-30 * 24 * time.Hour) }},
		{"timestamp in future", func(e *NetworkEvent) { e.Timestamp = time.Now().UTC().Add(time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)
			if err := v.Validate(e); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestSeverity_Rank(t *testing.T) {
	order := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("Rank(%s) = %d not greater than Rank(%s) = %d",
				order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
	if Severity("bogus").Rank() != 0 {
		t.Errorf("Rank(bogus) = %d, want 0", Severity("bogus").Rank())
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ThreatStatus
		want     bool
	}{
		{StatusDetected, StatusAnalyzing, true},
		{StatusAnalyzing, StatusConfirmed, true},
		{StatusAnalyzing, StatusFalsePositive, true},
		{StatusConfirmed, StatusMitigated, true},
		{StatusMitigated, StatusResolved, true},
		{StatusConfirmed, StatusResolved, false},
		{StatusConfirmed, StatusDetected, false},
		{StatusFalsePositive, StatusConfirmed, false},
		{StatusResolved, StatusMitigated, false},
		{StatusMitigated, StatusConfirmed, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestThreat_Transition(t *testing.T) {
	th := &Threat{Status: StatusConfirmed}

	if ok := th.Transition(StatusResolved); ok {
		t.Error("Transition(confirmed -> resolved) = true, want false")
	}
	if th.Status != StatusConfirmed {
		t.Errorf("Status = %s after rejected transition, want confirmed", th.Status)
	}

	if ok := th.Transition(StatusMitigated); !ok {
		t.Error("Transition(confirmed -> mitigated) = false, want true")
	}
	if th.Status != StatusMitigated {
		t.Errorf("Status = %s, want mitigated", th.Status)
	}
	if th.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set on transition")
	}
}

func TestThreatStatus_IsTerminal(t *testing.T) {
	for _, s := range []ThreatStatus{StatusFalsePositive, StatusResolved} {
		if !s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	for _, s := range []ThreatStatus{StatusDetected, StatusAnalyzing, StatusConfirmed, StatusMitigated} {
		if s.IsTerminal() {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestValidator_DisabledMaxAge(t *testing.T) {
	v := NewValidatorWithConfig(ValidatorConfig{
		MaxAge:    0,
		MaxFuture: 5 * time.Minute,
	})

	// Months-old timestamps pass when the age bound is disabled; IDS alert
	// lines carry no year, so replayed files produce exactly these.
	e := validEvent()
	e.Timestamp = time.Now().UTC().AddDate(0, -7, 0)
	if err := v.Validate(e); err != nil {
		t.Errorf("Validate() error = %v, want nil with age bound disabled", err)
	}

	// The future bound still applies.
	e = validEvent()
	e.Timestamp = time.Now().UTC().Add(time.Hour)
	if err := v.Validate(e); err == nil {
		t.Error("Validate() error = nil for future timestamp, want error")
	}
}
