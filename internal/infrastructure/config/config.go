// Package config loads daemon configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Terminal  TerminalConfig
	Profiles  ProfileConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"7600"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// TerminalConfig holds terminal session configuration.
type TerminalConfig struct {
	// DefaultShell is used for shell sessions when $SHELL is unset.
	DefaultShell string `envconfig:"TERMINAL_DEFAULT_SHELL" default:"/bin/bash"`
	// KillGrace bounds the wait between SIGTERM and SIGKILL.
	KillGrace time.Duration `envconfig:"TERMINAL_KILL_GRACE" default:"5s"`
	// Retention is how long terminated sessions stay queryable before
	// the janitor reaps them.
	Retention time.Duration `envconfig:"TERMINAL_RETENTION" default:"10m"`
	// JanitorInterval is how often the janitor scans for reapable sessions.
	JanitorInterval time.Duration `envconfig:"TERMINAL_JANITOR_INTERVAL" default:"1m"`
}

// ProfileConfig holds profile store configuration.
type ProfileConfig struct {
	// Path to the YAML profiles file. Empty means no file is loaded.
	Path string `envconfig:"PROFILES_PATH" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "7600",
			Host: "0.0.0.0",
		},
		Terminal: TerminalConfig{
			DefaultShell:    "/bin/bash",
			KillGrace:       5 * time.Second,
			Retention:       10 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
