// Package config loads the sitepreview server configuration: YAML file
// first, then environment overrides, then validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/sitepreview/blob"
	"github.com/hazyhaar/sitepreview/builder"
	"github.com/hazyhaar/sitepreview/shield"
	"github.com/hazyhaar/sitepreview/upstream"
)

// Config holds the full server configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`

	Upstream upstream.Config `yaml:"upstream"`
	Builder  builder.Config  `yaml:"builder"`
	Blob     blob.Config     `yaml:"blob"`
	Preview  PreviewConfig   `yaml:"preview"`
	Journal  JournalConfig   `yaml:"journal"`
	Metrics  MetricsConfig   `yaml:"metrics"`

	// RateLimit applies to the generation endpoints.
	RateLimit shield.RateLimit `yaml:"rate_limit"`
	MaxBodyMB int              `yaml:"max_body_mb"`
	MCP       bool             `yaml:"mcp"`
}

// PreviewConfig controls how the preview document is served.
type PreviewConfig struct {
	Minify bool   `yaml:"minify"`
	CSP    string `yaml:"csp"`
	// EventInterval is how often /api/build/events checks for a new state.
	EventInterval time.Duration `yaml:"event_interval"`
}

// MetricsConfig controls the SQLite metrics store.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	Retention      time.Duration `yaml:"retention"`
}

// JournalConfig controls journal retention.
type JournalConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		DBPath:   "data/sitepreview.db",
		Upstream: upstream.DefaultConfig(),
		Builder:  builder.DefaultConfig(),
		Blob: blob.Config{
			Prefix:     blob.DefaultPrefix,
			MaxObjects: 4096,
			MaxBytes:   256 << 20,
		},
		Preview: PreviewConfig{
			CSP:           "sandbox allow-scripts",
			EventInterval: 250 * time.Millisecond,
		},
		Journal: JournalConfig{
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			FlushInterval:  5 * time.Second,
			SampleInterval: 30 * time.Second,
			Retention:      7 * 24 * time.Hour,
		},
		RateLimit: shield.RateLimit{Requests: 30, Window: time.Minute},
		MaxBodyMB: 1,
		MCP:       true,
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		c.Listen = ":" + port
	}
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.DBPath, "DB_PATH")
	set(&c.Upstream.BaseURL, "API_URL", "NEXT_PUBLIC_API_URL")
	set(&c.Upstream.ParseURL, "PROMPT_API_URL")
	set(&c.Upstream.ChatStartURL, "CHAT_START_URL")
	set(&c.Upstream.ChatMessageURL, "CHAT_MESSAGE_URL")
	set(&c.Upstream.PollURL, "POLL_URL")
	set(&c.Upstream.ZipURL, "ZIP_URL")
}

// Validate checks that values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.MaxBodyMB <= 0 {
		return fmt.Errorf("config: max_body_mb must be > 0")
	}
	if c.Preview.EventInterval <= 0 {
		return fmt.Errorf("config: preview.event_interval must be > 0")
	}
	if !strings.HasPrefix(c.Blob.Prefix, "/") {
		return fmt.Errorf("config: blob.prefix must start with /")
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Builder.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Level returns the slog level named by LogLevel. Validate guarantees it is
// one of the four known names.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MaxBodyBytes returns the request body cap in bytes.
func (c *Config) MaxBodyBytes() int64 { return int64(c.MaxBodyMB) << 20 }
