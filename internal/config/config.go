// Package config provides configuration loading for mailcopd.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
)

// Config is the root configuration for the daemon.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Backends BackendsConfig `koanf:"backends"`
	Store    StoreConfig    `koanf:"store"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	Addr         string   `koanf:"addr"`
	ReadTimeout  Duration `koanf:"read_timeout"`
	WriteTimeout Duration `koanf:"write_timeout"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
}

// BackendsConfig holds both generation backends plus the startup mode.
type BackendsConfig struct {
	Mode   string        `koanf:"mode"` // local, remote
	Local  BackendConfig `koanf:"local"`
	Remote BackendConfig `koanf:"remote"`
}

// BackendConfig is one backend's connection settings as read from the
// config surface. APIKey stays a Secret until it crosses into the
// extraction layer.
type BackendConfig struct {
	BaseURL    string   `koanf:"base_url"`
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// Extraction converts the config-surface form into the extraction
// layer's Config.
func (b BackendConfig) Extraction() extraction.Config {
	return extraction.Config{
		BaseURL:    b.BaseURL,
		Model:      b.Model,
		APIKey:     b.APIKey.Value(),
		Timeout:    b.Timeout.Duration(),
		MaxRetries: b.MaxRetries,
	}
}

// StoreConfig controls the SQLite store and field encryption.
type StoreConfig struct {
	Path       string `koanf:"path"`
	Passphrase Secret `koanf:"passphrase"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8400"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = Duration(30 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		// Batch runs block the response; the write window covers the
		// worst-case backend retry chain.
		cfg.Server.WriteTimeout = Duration(5 * time.Minute)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Backends.Mode == "" {
		cfg.Backends.Mode = string(extraction.ModeLocal)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "mailcop.db"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	switch extraction.Mode(c.Backends.Mode) {
	case extraction.ModeLocal, extraction.ModeRemote:
	default:
		return fmt.Errorf("backends.mode: unknown mode %q", c.Backends.Mode)
	}
	if extraction.Mode(c.Backends.Mode) == extraction.ModeRemote && !c.Backends.Remote.APIKey.IsSet() {
		return fmt.Errorf("backends.remote.api_key: required when starting in remote mode")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr: must not be empty")
	}
	return nil
}

// Mode returns the startup extraction mode.
func (c *Config) Mode() extraction.Mode {
	return extraction.Mode(c.Backends.Mode)
}
