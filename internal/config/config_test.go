package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Hub.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.AI.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Auth.Mode)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9191
streams:
  insights_interval: 5s
auth:
  mode: permissive
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Streams.InsightsInterval)
	assert.Equal(t, "permissive", cfg.Auth.Mode)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Hub.QueueSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o644))

	t.Setenv("STREAMHUB_SERVER__PORT", "9292")
	t.Setenv("STREAMHUB_AI__DEFAULT_MODEL", "gpt-4o")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.AI.DefaultModel)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"zero queue", func(c *Config) { c.Hub.QueueSize = 0 }},
		{"zero history", func(c *Config) { c.Hub.HistoryCap = 0 }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"zero stream interval", func(c *Config) { c.Streams.DataUpdatesInterval = 0 }},
		{"zero sweep interval", func(c *Config) { c.Producers.SweepInterval = 0 }},
		{"zero idle timeout", func(c *Config) { c.Producers.IdleTimeout = 0 }},
		{"zero store capacity", func(c *Config) { c.Producers.StoreCapacity = 0 }},
		{"zero ai timeout", func(c *Config) { c.AI.RequestTimeout = 0 }},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "magic" }},
		{"sqlite without path", func(c *Config) { c.Auth.Path = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
