package config

import (
	"time"

	"github.com/propelkit/experiments/internal/infrastructure/database/redis"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort      = 8080
	DefaultServerMode      = "release"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultRateLimitRPS    = 100.0
	DefaultRateLimitBurst  = 200

	DefaultDBHost = "localhost"
	DefaultDBPort = 5432
	DefaultDBName = "experiments"
	DefaultDBUser = "postgres"

	DefaultRedisAddr = "localhost:6379"

	DefaultKafkaBroker = "localhost:9092"

	DefaultSweepCompletionInterval = time.Hour
	DefaultSweepArchiveInterval    = 24 * time.Hour

	DefaultMetricsNamespace = "abx"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with the service default.
// Fields already set by the caller are left unchanged so explicit
// configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = DefaultRateLimitRPS
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = DefaultRateLimitBurst
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = DefaultDBName
	}
	if cfg.Database.Username == "" {
		cfg.Database.Username = DefaultDBUser
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.ResultsTTL == 0 {
		cfg.Redis.ResultsTTL = redis.DefaultResultsTTL
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}

	if cfg.Sweep.CompletionInterval == 0 {
		cfg.Sweep.CompletionInterval = DefaultSweepCompletionInterval
	}
	if cfg.Sweep.ArchiveInterval == 0 {
		cfg.Sweep.ArchiveInterval = DefaultSweepArchiveInterval
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
