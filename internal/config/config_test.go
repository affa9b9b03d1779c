package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "server port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantMsg: "server.port",
		},
		{
			name:    "invalid server mode",
			mutate:  func(c *Config) { c.Server.Mode = "production" },
			wantMsg: "server.mode",
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantMsg: "database.host",
		},
		{
			name:    "missing database user",
			mutate:  func(c *Config) { c.Database.Username = "" },
			wantMsg: "database.username",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			wantMsg: "redis.addr",
		},
		{
			name:    "negative redis db",
			mutate:  func(c *Config) { c.Redis.DB = -1 },
			wantMsg: "redis.db",
		},
		{
			name: "kafka enabled without brokers",
			mutate: func(c *Config) {
				c.Kafka.Enabled = true
				c.Kafka.Brokers = nil
			},
			wantMsg: "brokers",
		},
		{
			name:    "negative sweep interval",
			mutate:  func(c *Config) { c.Sweep.ArchiveInterval = -time.Hour },
			wantMsg: "sweep",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantMsg: "log.level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantMsg: "log.format",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_KafkaDisabledSkipsBrokerCheck(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Kafka.Enabled = false
	cfg.Kafka.Brokers = nil
	assert.NoError(t, cfg.Validate())
}
