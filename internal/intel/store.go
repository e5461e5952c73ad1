// Package intel provides threat-intelligence lookups for event enrichment.
// Indicators live in Redis (shared with feed loaders); an in-process LRU
// cache keeps hot lookups off the network.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"netsentry/internal/schema"
)

// keyPrefix namespaces indicator keys in Redis.
const keyPrefix = "netsentry:intel:"

// Config holds configuration for the intelligence store.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	Password  string        `yaml:"password"`
	CacheSize int           `yaml:"cache_size"`
	TTL       time.Duration `yaml:"ttl"`
}

// DefaultConfig returns the default intelligence store configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		RedisAddr: "localhost:6379",
		CacheSize: 4096,
		TTL:       24 * time.Hour,
	}
}

// Store resolves indicator values against threat intelligence. It implements
// processor.IntelLookup. Redis being unreachable degrades to cache-only
// lookups; it never fails the caller's event.
type Store struct {
	client *redis.Client
	cache  *lru.Cache[string, *schema.ThreatIndicator]
	config Config
	logger *slog.Logger

	mu    sync.RWMutex
	local map[string]*schema.ThreatIndicator
}

// NewStore creates an intelligence store. When cfg.Enabled is false no Redis
// connection is made and only locally loaded indicators resolve.
func NewStore(cfg Config) (*Store, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}

	cache, err := lru.New[string, *schema.ThreatIndicator](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create intel cache: %w", err)
	}

	s := &Store{
		cache:  cache,
		config: cfg,
		logger: slog.With("component", "intel"),
		local:  make(map[string]*schema.ThreatIndicator),
	}

	if cfg.Enabled {
		s.client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
		})
	}

	return s, nil
}

// Ping verifies the Redis connection. Returns nil when Redis is disabled.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Lookup resolves an indicator value (IP, domain, hash). A nil indicator
// with nil error means no known intelligence for the value.
func (s *Store) Lookup(ctx context.Context, value string) (*schema.ThreatIndicator, error) {
	if value == "" {
		return nil, nil
	}

	// Hits and known-misses are both cached; a cached nil is a miss.
	if indicator, ok := s.cache.Get(value); ok {
		return indicator, nil
	}

	s.mu.RLock()
	indicator, ok := s.local[value]
	s.mu.RUnlock()
	if ok {
		s.cache.Add(value, indicator)
		return indicator, nil
	}

	if s.client == nil {
		s.cache.Add(value, nil)
		return nil, nil
	}

	raw, err := s.client.Get(ctx, keyPrefix+value).Result()
	if err == redis.Nil {
		s.cache.Add(value, nil)
		return nil, nil
	}
	if err != nil {
		// Degraded: Redis unavailable. Miss is not cached so the next
		// lookup retries.
		return nil, fmt.Errorf("intel lookup %q: %w", value, err)
	}

	var ind schema.ThreatIndicator
	if err := json.Unmarshal([]byte(raw), &ind); err != nil {
		s.logger.Warn("malformed intelligence entry", "value", value, "error", err)
		s.cache.Add(value, nil)
		return nil, nil
	}

	s.cache.Add(value, &ind)
	return &ind, nil
}

// Put stores an indicator, writing through to Redis when enabled. Used by
// feed loaders and tests.
func (s *Store) Put(ctx context.Context, indicator *schema.ThreatIndicator) error {
	if indicator == nil || indicator.IOCValue == "" {
		return fmt.Errorf("indicator value is required")
	}

	s.mu.Lock()
	s.local[indicator.IOCValue] = indicator
	s.mu.Unlock()
	s.cache.Add(indicator.IOCValue, indicator)

	if s.client == nil {
		return nil
	}

	raw, err := json.Marshal(indicator)
	if err != nil {
		return fmt.Errorf("failed to encode indicator: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+indicator.IOCValue, raw, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("intel put %q: %w", indicator.IOCValue, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
