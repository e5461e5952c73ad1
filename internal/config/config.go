// Package config handles configuration loading for NetSentry.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"netsentry/internal/analysis"
	"netsentry/internal/audit"
	"netsentry/internal/intel"
	"netsentry/internal/processor"
	"netsentry/internal/response"
	"netsentry/internal/storage"
	"netsentry/internal/storage/s3"
	"netsentry/internal/watcher"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig          `yaml:"server"`
	Logging    LoggingConfig         `yaml:"logging"`
	Sources    SourcesConfig         `yaml:"sources"`
	Queue      QueueConfig           `yaml:"queue"`
	Validation ValidationConfig      `yaml:"validation"`
	Processor  processor.Config      `yaml:"processor"`
	Analysis   analysis.ClientConfig `yaml:"analysis"`
	Response   response.ClientConfig `yaml:"response"`
	Storage    StorageConfig         `yaml:"storage"`
	Intel      intel.Config          `yaml:"intel"`
	Audit      audit.Config          `yaml:"audit"`
	Archive    ArchiveConfig         `yaml:"archive"`
	Pipeline   PipelineConfig        `yaml:"pipeline"`
}

// ServerConfig holds the health and metrics HTTP endpoint settings.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourcesConfig names the monitored log files.
type SourcesConfig struct {
	// AlertFile is the IDS alert file (Snort fast-alert format).
	AlertFile string `yaml:"alert_file"`

	// ZeekDir is the directory holding Zeek structured logs.
	ZeekDir string `yaml:"zeek_dir"`

	// ZeekLogs lists the log stems to watch within ZeekDir
	// (conn, dns, http, ssl).
	ZeekLogs []string `yaml:"zeek_logs"`

	// Watcher settings apply to every source.
	Watcher watcher.Config `yaml:"watcher"`
}

// QueueConfig holds event queue settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ValidationConfig holds event validation settings.
type ValidationConfig struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// StorageConfig holds threat persistence settings.
type StorageConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
}

// ArchiveConfig holds S3 cold-storage settings.
type ArchiveConfig struct {
	Enabled  bool              `yaml:"enabled"`
	S3       s3.Config         `yaml:"s3"`
	Archiver s3.ArchiverConfig `yaml:"archiver"`
}

// PipelineConfig holds supervisor settings.
type PipelineConfig struct {
	// DrainOnStop finishes queued events before shutdown completes.
	DrainOnStop bool `yaml:"drain_on_stop"`

	// DrainTimeout bounds the drain phase.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sources: SourcesConfig{
			AlertFile: "/var/log/snort/alert",
			ZeekDir:   "/var/log/zeek/current",
			ZeekLogs:  []string{"conn", "dns", "http", "ssl"},
			Watcher:   watcher.DefaultConfig(),
		},
		Queue: QueueConfig{
			Size: 10000,
		},
		Validation: ValidationConfig{
			MaxEventAge: 7 * 24 * time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Processor: processor.DefaultConfig(),
		Analysis:  analysis.DefaultClientConfig(),
		Response:  response.DefaultClientConfig(),
		Storage: StorageConfig{
			Enabled:    false,
			ClickHouse: storage.DefaultClickHouseConfig(),
		},
		Intel: intel.DefaultConfig(),
		Audit: audit.DefaultConfig(),
		Archive: ArchiveConfig{
			Enabled:  false,
			S3:       s3.DefaultConfig(),
			Archiver: s3.DefaultArchiverConfig(),
		},
		Pipeline: PipelineConfig{
			DrainOnStop:  true,
			DrainTimeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from NETSENTRY_CONFIG_PATH (default
// configs/config.yaml), falling back to defaults if the file is absent.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("NETSENTRY_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// Missing file means defaults; env overrides still apply.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("NETSENTRY_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}
	if level := os.Getenv("NETSENTRY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if url := os.Getenv("NETSENTRY_ANALYSIS_URL"); url != "" {
		c.Analysis.BaseURL = url
	}
	if url := os.Getenv("NETSENTRY_RESPONSE_URL"); url != "" {
		c.Response.BaseURL = url
	}
	if key := os.Getenv("NETSENTRY_ANALYSIS_API_KEY"); key != "" {
		c.Analysis.APIKey = key
	}
	if key := os.Getenv("NETSENTRY_RESPONSE_API_KEY"); key != "" {
		c.Response.APIKey = key
	}
	if pw := os.Getenv("NETSENTRY_CLICKHOUSE_PASSWORD"); pw != "" {
		c.Storage.ClickHouse.Password = pw
	}
	if pw := os.Getenv("NETSENTRY_REDIS_PASSWORD"); pw != "" {
		c.Intel.Password = pw
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}

	if c.Sources.AlertFile == "" && c.Sources.ZeekDir == "" {
		return fmt.Errorf("at least one source must be configured")
	}

	for _, stem := range c.Sources.ZeekLogs {
		if _, ok := watcher.ParserForStem(stem); !ok {
			return fmt.Errorf("unknown zeek log type: %s", stem)
		}
	}

	if c.Processor.Workers <= 0 {
		return fmt.Errorf("processor workers must be positive")
	}

	if c.Analysis.ConfidenceThreshold < 0 || c.Analysis.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0, 1]")
	}

	if c.Storage.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage enabled but no clickhouse hosts configured")
	}

	if c.Archive.Enabled {
		if err := c.Archive.S3.Validate(); err != nil {
			return err
		}
	}

	return nil
}
