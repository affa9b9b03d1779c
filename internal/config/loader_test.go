package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FromYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9091
  mode: test
database:
  host: db.example.com
  port: 5433
  username: abx
  password: secret
  database: experiments
redis:
  enabled: true
  addr: cache.example.com:6379
  results_ttl: 45s
sweep:
  completion_interval: 30m
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Mode)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 45*time.Second, cfg.Redis.ResultsTTL)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.CompletionInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset sections fall back to defaults.
	assert.Equal(t, DefaultSweepArchiveInterval, cfg.Sweep.ArchiveInterval)
	assert.Equal(t, []string{DefaultKafkaBroker}, cfg.Kafka.Brokers)
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 99999
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("ABX_SERVER_PORT", "7070")
	t.Setenv("ABX_DATABASE_HOST", "env-db")
	t.Setenv("ABX_LOG_LEVEL", "warn")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { MustLoad("/nonexistent/config.yaml") })
}
