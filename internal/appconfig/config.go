// Package appconfig loads the agent server's startup configuration from a
// YAML file with environment-variable expansion and overrides, grounded on
// the teacher's internal/config/loader.go ($include-free subset: this
// server has one process, not a plugin-host needing config composition).
package appconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full startup configuration for the agent server binary,
// covering the CLI/env surface in spec.md §6.
type Config struct {
	// Server
	ListenPort int `yaml:"listen_port"`

	// Task executor (C6)
	Workers          int           `yaml:"workers"`
	QueueDepth       int           `yaml:"queue_depth"`
	QueueTimeout     time.Duration `yaml:"queue_timeout"`
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	DefaultMaxRetry  int           `yaml:"default_max_retries"`
	HousekeepingTick time.Duration `yaml:"housekeeping_interval"`

	// Browser pool (C4)
	BrowserPoolSize    int           `yaml:"browser_pool_size"`
	BrowserHeadless    bool          `yaml:"browser_headless"`
	BrowserAcquireWait time.Duration `yaml:"browser_acquire_timeout"`
	ScreenshotsDir     string        `yaml:"screenshots_dir"`

	// Language-model gateway (C3)
	LMProvider        string        `yaml:"lm_provider"`
	LMModel           string        `yaml:"lm_model"`
	LMCallTimeout     time.Duration `yaml:"lm_call_timeout"`
	LMFingerprintTTL  time.Duration `yaml:"lm_fingerprint_cache_ttl"`
	LMMaxConcurrency  int           `yaml:"lm_max_concurrency"`
	AnthropicAPIKey   string        `yaml:"-"`
	OpenAIAPIKey      string        `yaml:"-"`
	GeminiAPIKey      string        `yaml:"-"`
	BedrockRegion     string        `yaml:"bedrock_region"`

	// Persistence
	DatabaseDSN string `yaml:"database_dsn"`
	Driver      string `yaml:"database_driver"` // "postgres" or "sqlite3"

	// Auth. Empty disables the façade's bearer-token middleware entirely
	// (spec.md §4.7 treats auth as optional middleware, not core), per the
	// credential env-var convention used for the LM provider keys above.
	AuthSecret string `yaml:"-"`

	// Description cache eviction
	DescriptionCacheMaxAge time.Duration `yaml:"description_cache_max_age"`
}

// Default returns a Config populated with the defaults spec.md §6/§4 name.
func Default() *Config {
	return &Config{
		ListenPort:             7860,
		Workers:                4,
		QueueDepth:             100,
		QueueTimeout:           600 * time.Second,
		DefaultTimeout:         300 * time.Second,
		DefaultMaxRetry:        2,
		HousekeepingTick:       time.Minute,
		BrowserPoolSize:        5,
		BrowserHeadless:        true,
		BrowserAcquireWait:     30 * time.Second,
		ScreenshotsDir:         "./screenshots",
		LMProvider:             "anthropic",
		LMModel:                "claude-3-5-sonnet-latest",
		LMCallTimeout:          30 * time.Second,
		LMFingerprintTTL:       10 * time.Minute,
		LMMaxConcurrency:       4,
		BedrockRegion:          "us-east-1",
		Driver:                 "sqlite3",
		DescriptionCacheMaxAge: 30 * 24 * time.Hour,
	}
}

// Load reads path (YAML), expanding ${VAR} references against the process
// environment, layers it over Default(), and applies credential
// environment-variable overrides per spec.md §6.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.AnthropicAPIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), cfg.AnthropicAPIKey)
	cfg.OpenAIAPIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), cfg.OpenAIAPIKey)
	cfg.GeminiAPIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), cfg.GeminiAPIKey)
	cfg.AuthSecret = firstNonEmpty(os.Getenv("AGENTSERVER_AUTH_SECRET"), cfg.AuthSecret)
	if dsn := os.Getenv("AGENTSERVER_DATABASE_DSN"); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if portStr := os.Getenv("AGENTSERVER_LISTEN_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.ListenPort = port
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Validate returns a plain error whose message starts with "ConfigInvalid:"
// when the configuration is unusable.
func (c *Config) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("ConfigInvalid: listen_port out of range: %d", c.ListenPort)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("ConfigInvalid: workers must be positive")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("ConfigInvalid: queue_depth must be positive")
	}
	if c.BrowserPoolSize <= 0 {
		return fmt.Errorf("ConfigInvalid: browser_pool_size must be positive")
	}
	switch c.LMProvider {
	case "anthropic", "openai", "gemini", "bedrock":
	default:
		return fmt.Errorf("ConfigInvalid: unknown lm_provider %q", c.LMProvider)
	}
	switch c.Driver {
	case "postgres", "sqlite3", "":
	default:
		return fmt.Errorf("ConfigInvalid: unknown database_driver %q", c.Driver)
	}
	return nil
}
