package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"netsentry/internal/schema"
)

const threatsTable = "threats"

// ThreatStore persists and updates threat records in ClickHouse.
type ThreatStore struct {
	client *ClickHouseClient
}

// NewThreatStore creates a ThreatStore backed by the given client.
func NewThreatStore(client *ClickHouseClient) *ThreatStore {
	return &ThreatStore{client: client}
}

// Insert writes a newly confirmed threat. Map and slice fields are stored
// as JSON strings so the row stays readable from plain SQL.
func (s *ThreatStore) Insert(ctx context.Context, threat *schema.Threat) error {
	if threat == nil {
		return &StorageError{Op: "Insert", Table: threatsTable, Err: ErrInvalidData}
	}

	indicators, err := marshalJSON(threat.Indicators)
	if err != nil {
		return &StorageError{Op: "Insert", Table: threatsTable, Err: fmt.Errorf("%w: indicators: %v", ErrInvalidData, err)}
	}
	details, err := marshalJSON(threat.AnalysisDetails)
	if err != nil {
		return &StorageError{Op: "Insert", Table: threatsTable, Err: fmt.Errorf("%w: analysis_details: %v", ErrInvalidData, err)}
	}
	actions, err := marshalJSON(threat.ResponseActions)
	if err != nil {
		return &StorageError{Op: "Insert", Table: threatsTable, Err: fmt.Errorf("%w: response_actions: %v", ErrInvalidData, err)}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, timestamp, threat_type, severity, status,
			source_ip, dest_ip, source_port, dest_port, protocol,
			description, indicators, raw,
			ai_confidence, model_version, analysis_details,
			response_actions, response_status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		threatsTable)

	err = s.client.Exec(ctx, query,
		threat.ID.String(),
		threat.Timestamp,
		string(threat.Type),
		string(threat.Severity),
		string(threat.Status),
		threat.SourceIP,
		threat.DestIP,
		portValue(threat.SourcePort),
		portValue(threat.DestPort),
		threat.Protocol,
		threat.Description,
		indicators,
		threat.Raw,
		threat.AIConfidence,
		threat.ModelVersion,
		details,
		actions,
		threat.ResponseStatus,
		threat.CreatedAt,
		threat.UpdatedAt,
	)
	if err != nil {
		return WrapQueryError("Insert", threatsTable, err)
	}
	return nil
}

// UpdateStatus records a lifecycle transition for an existing threat.
// ClickHouse rewrites rows asynchronously, so this uses a lightweight
// ALTER UPDATE mutation rather than a transactional UPDATE.
func (s *ThreatStore) UpdateStatus(ctx context.Context, id uuid.UUID, status schema.ThreatStatus, responseStatus string, actions []string) error {
	actionsJSON, err := marshalJSON(actions)
	if err != nil {
		return &StorageError{Op: "UpdateStatus", Table: threatsTable, Err: fmt.Errorf("%w: response_actions: %v", ErrInvalidData, err)}
	}

	query := fmt.Sprintf(`
		ALTER TABLE %s UPDATE
			status = ?,
			response_status = ?,
			response_actions = ?,
			updated_at = ?
		WHERE id = ?`, threatsTable)

	err = s.client.Exec(ctx, query,
		string(status),
		responseStatus,
		actionsJSON,
		time.Now().UTC(),
		id.String(),
	)
	if err != nil {
		return WrapQueryError("UpdateStatus", threatsTable, err)
	}
	return nil
}

// CountByStatus returns the number of threats in each lifecycle status.
func (s *ThreatStore) CountByStatus(ctx context.Context) (map[schema.ThreatStatus]uint64, error) {
	query := fmt.Sprintf("SELECT status, count() FROM %s GROUP BY status", threatsTable)
	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, WrapQueryError("CountByStatus", threatsTable, err)
	}
	defer rows.Close()

	counts := make(map[schema.ThreatStatus]uint64)
	for rows.Next() {
		var status string
		var n uint64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, WrapQueryError("CountByStatus", threatsTable, err)
		}
		counts[schema.ThreatStatus(status)] = n
	}
	return counts, nil
}

// marshalJSON encodes v as JSON, mapping empty collections to "{}" or "[]"
// so the stored column is never the string "null".
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return "{}", nil
		}
	case map[string]any:
		if len(t) == 0 {
			return "{}", nil
		}
	case []string:
		if len(t) == 0 {
			return "[]", nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// portValue maps an optional port to its column value, with 0 meaning unset.
func portValue(p *uint16) uint16 {
	if p == nil {
		return 0
	}
	return *p
}
