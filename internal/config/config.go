// Package config provides Mnemosyne's configuration loading, validation,
// backend-URL resolution, and hot-reload support: YAML configuration with
// fsnotify-backed atomic-pointer hot reload (see DESIGN.md for the choice
// of YAML over an illustrative TOML path).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete Mnemosyne configuration.
type Config struct {
	ListenAddress    string          `yaml:"listen_address"`
	Endpoints        []EndpointEntry `yaml:"endpoints"`
	FallBackEndpoint string          `yaml:"fall_back_endpoint"`
	Cache            CacheConfig     `yaml:"cache"`
	Logging          LoggingConfig   `yaml:"logging"`
	Metrics          MetricsConfig   `yaml:"metrics"`
}

// EndpointEntry maps one recognized virtual host to its backend base URL.
type EndpointEntry struct {
	Host    string `yaml:"host"`
	BaseURL string `yaml:"url"`
}

// CacheConfig controls the Entry Cache's bounds.
type CacheConfig struct {
	// ExpirationSeconds is the idle-TTL after which an unread entry expires.
	ExpirationSeconds int64 `yaml:"expiration"`
	// SizeLimitMiB bounds the aggregate byte weight of the cache.
	SizeLimitMiB int64 `yaml:"size_limit"`
}

// Expiration returns the configured idle TTL as a time.Duration.
func (c CacheConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationSeconds) * time.Second
}

// SizeLimitBytes returns the configured weight bound in bytes.
func (c CacheConfig) SizeLimitBytes() int64 {
	return c.SizeLimitMiB * 1024 * 1024
}

// LoggingConfig holds the logging section of the configuration file. It
// is validated but not applied: cmd/mnemosyned always logs JSON at info
// level.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the configuration defaults from spec §6.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:    "127.0.0.1:9830",
		Endpoints:        nil,
		FallBackEndpoint: "http://127.0.0.1:1000",
		Cache: CacheConfig{
			ExpirationSeconds: 2_592_000, // 30 days
			SizeLimitMiB:      250,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file, expanding
// ${VAR_NAME}-style environment variables, then validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("listen_address is required")
	}
	if strings.TrimSpace(c.FallBackEndpoint) == "" {
		return fmt.Errorf("fall_back_endpoint is required")
	}
	if c.Cache.ExpirationSeconds < 0 {
		return fmt.Errorf("cache.expiration cannot be negative")
	}
	if c.Cache.SizeLimitMiB <= 0 {
		return fmt.Errorf("cache.size_limit must be positive")
	}
	for i, e := range c.Endpoints {
		if strings.TrimSpace(e.Host) == "" {
			return fmt.Errorf("endpoints[%d]: host is required", i)
		}
		if strings.TrimSpace(e.BaseURL) == "" {
			return fmt.Errorf("endpoints[%d] %q: url is required", i, e.Host)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}

// Clone returns a deep copy, used by the Manager before handing out a
// config snapshot for in-place admin mutation.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Endpoints = append([]EndpointEntry(nil), c.Endpoints...)
	return &cp
}
