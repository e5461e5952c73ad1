// Package main is the entry point for the NetSentry detection pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netsentry/internal/analysis"
	"netsentry/internal/audit"
	"netsentry/internal/config"
	"netsentry/internal/intel"
	"netsentry/internal/pipeline"
	"netsentry/internal/response"
	"netsentry/internal/storage"
	"netsentry/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"queue_size", cfg.Queue.Size,
		"workers", cfg.Processor.Workers,
		"storage_enabled", cfg.Storage.Enabled,
		"intel_enabled", cfg.Intel.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	analyzer := analysis.NewClient(cfg.Analysis)
	responder := response.NewClient(cfg.Response)

	sup, err := pipeline.New(cfg, analyzer, responder)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	auditSink := audit.NewSink(cfg.Audit, logger)
	sup.WithAudit(auditSink)

	var chClient *storage.ClickHouseClient
	if cfg.Storage.Enabled {
		slog.Info("initializing ClickHouse storage",
			"hosts", cfg.Storage.ClickHouse.Hosts,
			"database", cfg.Storage.ClickHouse.Database,
		)

		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		if err := chClient.EnsureDatabase(ctx); err != nil {
			slog.Error("failed to ensure database", "error", err)
			os.Exit(1)
		}

		slog.Info("running database migrations")
		if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		sup.WithStore(storage.NewThreatStore(chClient))
	}

	var intelStore *intel.Store
	if cfg.Intel.Enabled {
		intelStore, err = intel.NewStore(cfg.Intel)
		if err != nil {
			slog.Error("failed to initialize intel store", "error", err)
			os.Exit(1)
		}
		sup.WithIntel(intelStore)
	}

	var archiver *s3.Archiver
	if cfg.Archive.Enabled {
		s3Client, err := s3.NewClient(ctx, cfg.Archive.S3, logger)
		if err != nil {
			slog.Error("failed to initialize s3 client", "error", err)
			os.Exit(1)
		}
		archiver = s3.NewArchiver(s3Client, cfg.Archive.Archiver, logger)
		sup.WithArchive(archiver)
	}

	if err := sup.Start(ctx); err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	server := startHTTPServer(cfg.Server, sup)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	sup.Stop(shutdownCtx)

	if archiver != nil {
		archiver.Close()
	}
	if intelStore != nil {
		if err := intelStore.Close(); err != nil {
			slog.Error("intel store close error", "error", err)
		}
	}
	if chClient != nil {
		logThreatCounts(chClient)
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}
	if err := auditSink.Close(); err != nil {
		slog.Error("audit sink close error", "error", err)
	}

	stats := sup.Stats()
	slog.Info("shutdown complete",
		"events_processed", stats.EventsProcessed,
		"threats_detected", stats.ThreatsDetected,
		"false_positives", stats.FalsePositives,
		"events_dropped", stats.EventsDropped,
	)
}

// logThreatCounts logs the stored threat population by lifecycle status.
func logThreatCounts(client *storage.ClickHouseClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := storage.NewThreatStore(client).CountByStatus(ctx)
	if err != nil {
		slog.Warn("failed to count stored threats", "error", err)
		return
	}

	attrs := make([]any, 0, 2*len(counts))
	for status, n := range counts {
		attrs = append(attrs, string(status), n)
	}
	slog.Info("stored threats by status", attrs...)
}

// setupLogging configures the default slog logger and returns it.
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// startHTTPServer serves health and Prometheus metrics endpoints.
func startHTTPServer(cfg config.ServerConfig, sup *pipeline.Supervisor) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		stats := sup.Stats()
		w.Header().Set("Content-Type", "application/json")
		if !stats.IsRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(stats)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		slog.Info("starting http server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	return server
}
