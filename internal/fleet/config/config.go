package config

import (
	"fmt"
	"time"
)

// Config defines the configuration for the subfleet service.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Log      LogConfig      `mapstructure:"log"`
	API      APIConfig      `mapstructure:"api"`
	DB       DBConfig       `mapstructure:"db"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Rotation RotationConfig `mapstructure:"rotation"`
	Usage    UsageConfig    `mapstructure:"usage"`
	Locks    LockConfig     `mapstructure:"locks"`
	Hetzner  HetznerConfig  `mapstructure:"hetzner"`
}

// ServiceConfig defines service-level configuration options.
type ServiceConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig defines the logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig defines the API server configuration.
type APIConfig struct {
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DBConfig defines the database configuration.
type DBConfig struct {
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// RemoteConfig tunes calls against the fleet servers' management APIs.
type RemoteConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// RotationConfig defines the rotation sweep configuration.
type RotationConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// UsageConfig defines the usage syncer configuration.
type UsageConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// LockConfig defines the advisory lock configuration.
type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// HetznerConfig defines the optional cloud onboarding configuration. An
// empty APIToken disables the provisioning endpoint.
type HetznerConfig struct {
	APIToken   string `mapstructure:"api_token"`
	ServerType string `mapstructure:"server_type"`
	Image      string `mapstructure:"image"`
	Location   string `mapstructure:"location"`
}

// Validate validates the configuration for correctness and completeness
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Log.Level != "" && !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log.format: %s (must be json or text)", c.Log.Format)
	}

	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.Service.ShutdownTimeout > 0 && c.Service.ShutdownTimeout < time.Second {
		return fmt.Errorf("service.shutdown_timeout must be at least 1 second")
	}

	if c.Remote.Timeout > 0 && c.Remote.Timeout < time.Second {
		return fmt.Errorf("remote.timeout must be at least 1 second")
	}

	if c.Rotation.Enabled && c.Rotation.CheckInterval < time.Minute {
		return fmt.Errorf("rotation.check_interval must be at least 1 minute")
	}

	if c.Usage.Enabled && c.Usage.SyncInterval < time.Minute {
		return fmt.Errorf("usage.sync_interval must be at least 1 minute")
	}

	if c.Locks.TTL > 0 && c.Locks.TTL < time.Second {
		return fmt.Errorf("locks.ttl must be at least 1 second")
	}

	if c.Hetzner.APIToken != "" {
		if c.Hetzner.ServerType == "" {
			return fmt.Errorf("hetzner.server_type is required when hetzner.api_token is set")
		}
		if c.Hetzner.Location == "" {
			return fmt.Errorf("hetzner.location is required when hetzner.api_token is set")
		}
	}

	return nil
}

// CloudEnabled reports whether the Hetzner onboarding surface is configured.
func (c *Config) CloudEnabled() bool {
	return c.Hetzner.APIToken != ""
}
