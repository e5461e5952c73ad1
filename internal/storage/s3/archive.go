package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"netsentry/internal/schema"
)

// ArchiverConfig configures threat batching.
type ArchiverConfig struct {
	// BatchSize is the number of threats per uploaded object.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval bounds how long a partial batch may wait.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultArchiverConfig returns default archiver configuration.
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Minute,
	}
}

// Archiver batches confirmed threats and uploads them as gzipped JSON lines.
// Archival is best effort; a failed upload drops the batch with a log entry
// and never blocks the detection pipeline.
type Archiver struct {
	client *Client
	config ArchiverConfig
	logger *slog.Logger

	mu    sync.Mutex
	batch []*schema.Threat

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewArchiver creates an Archiver and starts its flush loop.
func NewArchiver(client *Client, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultArchiverConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultArchiverConfig().FlushInterval
	}

	a := &Archiver{
		client: client,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go a.flushLoop()
	return a
}

// Append adds a threat to the current batch, flushing when full.
func (a *Archiver) Append(ctx context.Context, threat *schema.Threat) error {
	if threat == nil {
		return nil
	}

	a.mu.Lock()
	a.batch = append(a.batch, threat)
	full := len(a.batch) >= a.config.BatchSize
	a.mu.Unlock()

	if full {
		a.Flush(ctx)
	}
	return nil
}

// Flush uploads the current batch, if any.
func (a *Archiver) Flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.batch
	a.batch = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	body, err := encodeBatch(batch)
	if err != nil {
		a.logger.Error("failed to encode archive batch",
			"error", err,
			"records", len(batch),
		)
		return
	}

	key := timeKey(time.Now(), uuid.New().String())
	if err := a.client.Upload(ctx, key, "application/gzip", body); err != nil {
		a.logger.Error("failed to upload archive batch",
			"error", err,
			"key", key,
			"records", len(batch),
		)
		return
	}

	a.logger.Info("archive batch uploaded",
		"key", key,
		"records", len(batch),
		"bytes", len(body),
	)
}

// Close flushes the pending batch and stops the flush loop.
func (a *Archiver) Close() {
	close(a.stopCh)
	<-a.doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Flush(ctx)
}

func (a *Archiver) flushLoop() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.Flush(ctx)
			cancel()
		case <-a.stopCh:
			return
		}
	}
}

// encodeBatch renders threats as gzipped JSON lines.
func encodeBatch(batch []*schema.Threat) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, threat := range batch {
		if err := enc.Encode(threat); err != nil {
			gz.Close()
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
