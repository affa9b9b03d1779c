package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix for all service settings.
const envPrefix = "ABX"

// newViper builds a pre-configured Viper instance: YAML file type, ABX_ env
// prefix, automatic env binding, and a key replacer that maps "." to "_" so
// that nested keys like "database.host" resolve to "ABX_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	registerKeys(v)
	return v
}

// registerKeys declares every configuration key to viper.  Unmarshal only
// applies environment variable overrides to keys it knows about, so each key
// must be registered even when its default is the zero value.
func registerKeys(v *viper.Viper) {
	keys := []string{
		"server.port", "server.mode", "server.read_timeout",
		"server.write_timeout", "server.shutdown_timeout",
		"server.rate_limit_rps", "server.rate_limit_burst",
		"database.host", "database.port", "database.database",
		"database.username", "database.password", "database.ssl_mode",
		"database.max_open_conns", "database.max_idle_conns",
		"database.conn_max_lifetime", "database.conn_max_idle_time",
		"redis.enabled", "redis.addr", "redis.username", "redis.password",
		"redis.db", "redis.pool_size", "redis.min_idle_conns",
		"redis.dial_timeout", "redis.read_timeout", "redis.write_timeout",
		"redis.results_ttl",
		"kafka.enabled", "kafka.brokers", "kafka.acks", "kafka.max_retries",
		"kafka.batch_timeout", "kafka.write_timeout", "kafka.group_id",
		"sweep.completion_interval", "sweep.archive_interval",
		"metrics.enabled", "metrics.namespace",
		"log.level", "log.format", "log.output_paths", "log.error_output_paths",
	}
	for _, key := range keys {
		v.SetDefault(key, nil)
	}
}

// Load reads the YAML file at configPath, merges ABX_* environment variable
// overrides, applies defaults for unset fields, and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from ABX_* environment variables with
// no config file required.  This is the preferred loading strategy for
// containerised deployments.
//
// Naming convention: ABX_<SECTION>_<FIELD>, e.g. ABX_DATABASE_HOST.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified.  Changed files that fail to
// parse or validate are skipped so the application never adopts a broken
// configuration.  Watch is non-blocking.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)

	// Initial read; callers should have called Load first.
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
}

// MustLoad wraps Load and panics on any error.  Intended for main() where a
// config-load failure is always fatal.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
