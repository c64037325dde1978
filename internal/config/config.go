// Package config defines service configuration structures and loading hooks.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/stakerank/internal/domain/leaderboard"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// SyncSecret is the shared bearer credential for write endpoints.
	SyncSecret string `koanf:"sync_secret"`

	// StoreDriver selects the entry store: memory or postgres.
	StoreDriver string `koanf:"store_driver"`
	PostgresDSN string `koanf:"postgres_dsn"`
	// PostgresMaxConns caps the connection pool.
	PostgresMaxConns int `koanf:"postgres_max_conns"`
	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `koanf:"auto_migrate"`

	// StoreTimeoutMS bounds every store interaction.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// MaxBatchSize caps records per sync request.
	MaxBatchSize int `koanf:"max_batch_size"`
	// MaxBodyBytes caps the size of request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	DefaultPageLimit int `koanf:"default_page_limit"`
	MaxPageLimit     int `koanf:"max_page_limit"`

	RecomputeQueueSize   int `koanf:"recompute_queue_size"`
	RecomputeWorkers     int `koanf:"recompute_workers"`
	RecomputeMaxAttempts int `koanf:"recompute_max_attempts"`
	RecomputeBackoffMS   int `koanf:"recompute_backoff_ms"`

	// ReconcileCron recomputes every type on a schedule (seconds field first).
	// Empty disables it.
	ReconcileCron string `koanf:"reconcile_cron"`

	// LockBackend selects how same-type recomputations are serialized.
	LockBackend   string `koanf:"lock_backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	LockTTLMS     int    `koanf:"lock_ttl_ms"`

	// SyncRateLimit is the per-client write budget in requests per second.
	// Zero disables rate limiting.
	SyncRateLimit float64 `koanf:"sync_rate_limit"`
	SyncRateBurst int     `koanf:"sync_rate_burst"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		StoreDriver:          StoreMemory,
		PostgresMaxConns:     16,
		AutoMigrate:          true,
		StoreTimeoutMS:       5_000,
		MaxBatchSize:         10_000,
		MaxBodyBytes:         8 << 20,
		DefaultPageLimit:     50,
		MaxPageLimit:         100,
		RecomputeQueueSize:   1024,
		RecomputeWorkers:     2,
		RecomputeMaxAttempts: 5,
		RecomputeBackoffMS:   500,
		ReconcileCron:        "0 */5 * * * *",
		LockBackend:          LockLocal,
		RedisAddr:            "localhost:6379",
		LockTTLMS:            30_000,
		SyncRateLimit:        5,
		SyncRateBurst:        10,
	}
}

// StoreTimeout returns StoreTimeoutMS as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// RecomputeBackoff returns RecomputeBackoffMS as a duration.
func (c *Config) RecomputeBackoff() time.Duration {
	return time.Duration(c.RecomputeBackoffMS) * time.Millisecond
}

// LockTTL returns LockTTLMS as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// Validate reports every problem with c. The returned error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Addr) == "" {
		add("addr must not be empty")
	}
	if c.SyncSecret == "" {
		add("sync_secret must be set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			add("postgres_dsn is required when store_driver is postgres")
		}
	default:
		add("store_driver must be memory or postgres (got %q)", c.StoreDriver)
	}
	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.RedisAddr == "" {
			add("redis_addr is required when lock_backend is redis")
		}
	default:
		add("lock_backend must be local or redis (got %q)", c.LockBackend)
	}
	if c.StoreTimeoutMS <= 0 {
		add("store_timeout_ms must be > 0")
	}
	if c.MaxBatchSize <= 0 {
		add("max_batch_size must be > 0")
	}
	if c.MaxPageLimit < leaderboard.MinLimit || c.MaxPageLimit > leaderboard.MaxLimit {
		add("max_page_limit must be between %d and %d", leaderboard.MinLimit, leaderboard.MaxLimit)
	}
	if c.DefaultPageLimit < 1 || c.DefaultPageLimit > c.MaxPageLimit {
		add("default_page_limit must be between 1 and max_page_limit")
	}
	if c.RecomputeQueueSize <= 0 || c.RecomputeWorkers <= 0 {
		add("recompute_queue_size and recompute_workers must be > 0")
	}
	if c.RecomputeMaxAttempts <= 0 {
		add("recompute_max_attempts must be > 0")
	}
	if c.SyncRateLimit < 0 {
		add("sync_rate_limit must be >= 0")
	}
	if c.ReconcileCron != "" {
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(c.ReconcileCron); err != nil {
			add("reconcile_cron: %v", err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
