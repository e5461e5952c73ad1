package s3

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"netsentry/internal/schema"
)

func TestEncodeBatch(t *testing.T) {
	batch := []*schema.Threat{
		{
			ID:       uuid.New(),
			Type:     schema.ThreatMalware,
			Severity: schema.SeverityHigh,
			Status:   schema.StatusConfirmed,
			SourceIP: "10.0.0.1",
			DestIP:   "10.0.0.2",
		},
		{
			ID:       uuid.New(),
			Type:     schema.ThreatIntrusion,
			Severity: schema.SeverityCritical,
			Status:   schema.StatusMitigated,
			SourceIP: "10.0.0.3",
			DestIP:   "10.0.0.4",
		},
	}

	body, err := encodeBatch(batch)
	if err != nil {
		t.Fatalf("encodeBatch() error: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("output is not valid gzip: %v", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompress error: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var decoded []schema.Threat
	for dec.More() {
		var th schema.Threat
		if err := dec.Decode(&th); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		decoded = append(decoded, th)
	}

	if len(decoded) != len(batch) {
		t.Fatalf("decoded %d records, want %d", len(decoded), len(batch))
	}
	for i := range batch {
		if decoded[i].ID != batch[i].ID {
			t.Errorf("record %d: id = %s, want %s", i, decoded[i].ID, batch[i].ID)
		}
		if decoded[i].Status != batch[i].Status {
			t.Errorf("record %d: status = %s, want %s", i, decoded[i].Status, batch[i].Status)
		}
	}
}

func TestTimeKey(t *testing.T) {
	ts := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	got := timeKey(ts, "abc")
	want := "2026/03/15/abc.json.gz"
	if got != want {
		t.Errorf("timeKey() = %q, want %q", got, want)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	cfg.Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}

	cfg = DefaultConfig()
	cfg.Region = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing region")
	}
}
