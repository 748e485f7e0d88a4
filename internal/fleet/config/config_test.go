package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Log:      LogConfig{Level: "info", Format: "json"},
		API:      APIConfig{ListenAddr: ":8080"},
		DB:       DBConfig{Path: "./data/test.db"},
		Rotation: RotationConfig{Enabled: true, CheckInterval: 5 * time.Minute},
		Usage:    UsageConfig{Enabled: true, SyncInterval: 10 * time.Minute},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Log.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid log format", func(t *testing.T) {
		cfg := validConfig()
		cfg.Log.Format = "xml"
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing listen addr", func(t *testing.T) {
		cfg := validConfig()
		cfg.API.ListenAddr = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing db path", func(t *testing.T) {
		cfg := validConfig()
		cfg.DB.Path = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("sub-second shutdown timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Service.ShutdownTimeout = 100 * time.Millisecond
		assert.Error(t, cfg.Validate())
	})

	t.Run("rotation interval too short when enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Rotation.CheckInterval = 10 * time.Second
		assert.Error(t, cfg.Validate())

		cfg.Rotation.Enabled = false
		assert.NoError(t, cfg.Validate(), "interval is not checked when the sweep is disabled")
	})

	t.Run("hetzner fields required with token", func(t *testing.T) {
		cfg := validConfig()
		cfg.Hetzner.APIToken = "tok"
		assert.Error(t, cfg.Validate())

		cfg.Hetzner.ServerType = "cx22"
		cfg.Hetzner.Location = "nbg1"
		assert.NoError(t, cfg.Validate())
		assert.True(t, cfg.CloudEnabled())
	})
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, "./data/subfleet.db", cfg.DB.Path)
	assert.Equal(t, 25, cfg.DB.MaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.Service.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.Remote.Timeout)
	assert.True(t, cfg.Rotation.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Rotation.CheckInterval)
	assert.Equal(t, 10*time.Minute, cfg.Usage.SyncInterval)
	assert.Equal(t, 5*time.Minute, cfg.Locks.TTL)
	assert.False(t, cfg.CloudEnabled())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("SUBFLEET_LOG_LEVEL", "debug")
	t.Setenv("SUBFLEET_API_LISTEN_ADDR", ":9999")
	t.Setenv("SUBFLEET_ROTATION_CHECK_INTERVAL", "2m")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.API.ListenAddr)
	assert.Equal(t, 2*time.Minute, cfg.Rotation.CheckInterval)
}

func TestLoadWithPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
log:
  level: warn
  format: text
api:
  listen_addr: ":7070"
db:
  path: /var/lib/subfleet/fleet.db
rotation:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":7070", cfg.API.ListenAddr)
	assert.Equal(t, "/var/lib/subfleet/fleet.db", cfg.DB.Path)
	assert.False(t, cfg.Rotation.Enabled)

	// Untouched keys keep their defaults
	assert.Equal(t, 15*time.Second, cfg.Remote.Timeout)
}

func TestLoadWithPathRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	_, err := LoadWithPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}
