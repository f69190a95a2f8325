// Package config provides configuration types for sentinel-gate.
//
// The schema covers the interceptor's own operating parameters (mode,
// circuit breaker, persistence, downstream command) plus the ambient
// server/admin concerns every deployment needs. It intentionally leaves
// out anything that belongs to the administrative facade's own scope
// (identities, API keys, HTTP gateway) -- those are a separate concern
// layered on top of the same store, not part of the interceptor's
// config surface.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SentinelConfig is the top-level configuration for sentinel-gate.
type SentinelConfig struct {
	// Server configures the admin HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Downstream configures the MCP server the interceptor forwards
	// allowed/log-only calls to.
	Downstream DownstreamConfig `yaml:"downstream" mapstructure:"downstream"`

	// Store configures the persistence backend.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Mode is the process-global policy posture: one of "silent-allow",
	// "alert", "silent-deny", "lockdown". Defaults to "alert" (ask by
	// default) so an empty config never silently allows or denies
	// everything.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"required,oneof=silent-allow alert silent-deny lockdown"`

	// Breaker configures the per-host circuit breaker.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// DevMode enables development-friendly defaults (verbose logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address the admin facade listens on.
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// DownstreamConfig configures the downstream MCP server the interceptor
// forwards to. The server is always spawned as a subprocess over stdio;
// there is no HTTP downstream mode in this module.
type DownstreamConfig struct {
	// Command is the path to the downstream MCP server executable.
	Command string `yaml:"command" mapstructure:"command" validate:"required"`

	// Args are the arguments passed to Command.
	Args []string `yaml:"args" mapstructure:"args"`

	// Timeout bounds a single forwarded call (e.g. "15s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// StoreConfig configures the SQLite persistence backend.
type StoreConfig struct {
	// DSN is the path to the SQLite database file.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// BreakerConfig configures the per-host circuit breaker. Zero values
// fall back to the breaker package's own defaults.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens a
	// host's circuit.
	Threshold int `yaml:"threshold" mapstructure:"threshold" validate:"omitempty,min=1"`

	// Cooldown is how long an open circuit waits before probing again
	// (e.g. "2m").
	Cooldown string `yaml:"cooldown" mapstructure:"cooldown" validate:"omitempty"`
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied BEFORE validation so required fields are satisfied even with
// a minimal config.
func (c *SentinelConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "debug"
	}
	if c.Downstream.Command == "" {
		c.Downstream.Command = "true"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *SentinelConfig) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Downstream.Timeout == "" {
		c.Downstream.Timeout = "15s"
	}

	if c.Store.DSN == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			dir = "."
		}
		c.Store.DSN = filepath.Join(dir, ".sentinelgate", "sentinel.db")
	}

	if c.Mode == "" {
		c.Mode = "alert"
	}

	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = 2
	}
	if c.Breaker.Cooldown == "" {
		c.Breaker.Cooldown = "2m"
	}

	// Only apply when the user hasn't explicitly set it in YAML/env --
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly
	// false".
	if !viper.IsSet("dev_mode") {
		c.DevMode = false
	}
}
