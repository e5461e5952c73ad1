// Package audit emits structured security-audit events for operator review.
// Every event is written to the structured log; when Kafka is configured the
// same record is also published for downstream consumers.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds audit sink configuration.
type Config struct {
	// KafkaEnabled turns on publication to a Kafka topic.
	KafkaEnabled bool `yaml:"kafka_enabled"`

	// Brokers is the list of Kafka broker addresses.
	Brokers []string `yaml:"brokers"`

	// Topic is the audit event topic.
	Topic string `yaml:"topic"`

	// WriteTimeout bounds individual publish attempts.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		KafkaEnabled: false,
		Brokers:      []string{"localhost:9092"},
		Topic:        "netsentry.audit",
		WriteTimeout: 10 * time.Second,
	}
}

// Record is the wire format of a single audit event.
type Record struct {
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink writes audit events to the log and, optionally, to Kafka.
type Sink struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewSink creates a Sink. With KafkaEnabled false the sink is log-only.
func NewSink(cfg Config, logger *slog.Logger) *Sink {
	s := &Sink{logger: logger}

	if cfg.KafkaEnabled {
		s.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
			// Publication must never block the pipeline.
			Async: true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Error(fmt.Sprintf(msg, args...), "component", "audit-kafka")
			}),
		}
		logger.Info("audit kafka publication enabled",
			"brokers", cfg.Brokers,
			"topic", cfg.Topic,
		)
	}

	return s
}

// Emit records an audit event. Failures to publish are logged, never returned.
func (s *Sink) Emit(ctx context.Context, eventType string, details map[string]any) {
	record := Record{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}

	attrs := make([]any, 0, 2+2*len(details))
	attrs = append(attrs, "audit_event", eventType)
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	s.logger.Info("security audit event", attrs...)

	if s.writer == nil {
		return
	}

	value, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("failed to encode audit event", "event_type", eventType, "error", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(eventType),
		Value: value,
		Time:  record.Timestamp,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("failed to publish audit event",
			"event_type", eventType,
			"error", err,
		)
	}
}

// Close flushes and closes the Kafka writer, if any.
func (s *Sink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
