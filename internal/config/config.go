// Package config defines the service configuration structures, defaults, and
// loading logic.  No component reads environment variables directly; every
// setting flows through the Config tree built here.
package config

import (
	"fmt"
	"time"

	"github.com/propelkit/experiments/internal/infrastructure/database/postgres"
	"github.com/propelkit/experiments/internal/infrastructure/database/redis"
	"github.com/propelkit/experiments/internal/infrastructure/messaging/kafka"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// RedisSection wraps the Redis client configuration with cache tunables.
type RedisSection struct {
	redis.Config `mapstructure:",squash"`

	// ResultsTTL bounds the staleness of cached experiment results.
	ResultsTTL time.Duration `mapstructure:"results_ttl"`
}

// SweepConfig holds background maintenance tunables for the worker process.
type SweepConfig struct {
	CompletionInterval time.Duration `mapstructure:"completion_interval"`
	ArchiveInterval    time.Duration `mapstructure:"archive_interval"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration for both the API server and the worker.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Database postgres.Config `mapstructure:"database"`
	Redis    RedisSection    `mapstructure:"redis"`
	Kafka    kafka.Config    `mapstructure:"kafka"`
	Sweep    SweepConfig     `mapstructure:"sweep"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Log      logging.Config  `mapstructure:"log"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.  It
// returns the first error encountered; any error is fatal at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.Username == "" {
		return fmt.Errorf("config: database.username is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("config: database.database is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Sweep.CompletionInterval < 0 || c.Sweep.ArchiveInterval < 0 {
		return fmt.Errorf("config: sweep intervals must not be negative")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
