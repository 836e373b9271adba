// Package config handles Stan configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/stanbot/config.yaml, /etc/stanbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "stanbot", "config.yaml"))
	}

	paths = append(paths, "/etc/stanbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns "" (no error) when nothing was found; the service then runs on
// defaults plus environment overrides.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// Config holds all Stan configuration.
type Config struct {
	Listen         ListenConfig   `yaml:"listen"`
	Database       DatabaseConfig `yaml:"database"`
	Sessions       SessionsConfig `yaml:"sessions"`
	Model          ModelConfig    `yaml:"model"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	DebugEndpoints bool           `yaml:"debug_endpoints"`
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"` // "text" or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig defines the session document store settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. When the database cannot be
	// opened at startup the store falls back to in-memory storage.
	Path string `yaml:"path"`
}

// SessionsConfig tunes session retention and expiry policy.
type SessionsConfig struct {
	// Max is the global session ceiling; oldest sessions are evicted
	// beyond it.
	Max int `yaml:"max"`
	// TimeoutHours is the idle time before a session expires.
	TimeoutHours int `yaml:"timeout_hours"`
	// Retention is how many exchanges are kept per session.
	Retention int `yaml:"retention"`
	// OpTimeoutSec bounds every persistence-backend call.
	OpTimeoutSec int `yaml:"op_timeout_sec"`
}

// ModelConfig defines the optional generative backend. An empty URL means
// rule-based responses only.
type ModelConfig struct {
	URL         string  `yaml:"url"`  // Ollama base URL
	Name        string  `yaml:"name"` // model name, e.g. "qwen3:4b"
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"` // response length cap
}

// Enabled reports whether a generative backend is configured.
func (m ModelConfig) Enabled() bool {
	return m.URL != "" && m.Name != ""
}

// Timeout returns the session idle timeout as a duration.
func (s SessionsConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutHours) * time.Hour
}

// OpTimeout returns the backend-call timeout as a duration.
func (s SessionsConfig) OpTimeout() time.Duration {
	return time.Duration(s.OpTimeoutSec) * time.Second
}

// Default returns the baseline configuration: rule-based responses,
// sessions persisted to ./stan.db, a thousand-session ceiling with a
// 24-hour idle timeout, and twenty exchanges of history per session.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8080},
		Database: DatabaseConfig{Path: "stan.db"},
		Sessions: SessionsConfig{
			Max:          1000,
			TimeoutHours: 24,
			Retention:    20,
			OpTimeoutSec: 5,
		},
		Model: ModelConfig{
			Temperature: 0.7,
			MaxTokens:   100,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file, layered over Default and
// under the STAN_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		// Expand environment variables referenced in the file.
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays STAN_* environment variables onto the config. Every
// deployment-tunable value has an override so the service can run with no
// config file at all.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setString("STAN_ADDRESS", &c.Listen.Address)
	setInt("STAN_PORT", &c.Listen.Port)
	setString("STAN_DB_PATH", &c.Database.Path)
	setInt("STAN_MAX_SESSIONS", &c.Sessions.Max)
	setInt("STAN_SESSION_TIMEOUT_HOURS", &c.Sessions.TimeoutHours)
	setInt("STAN_HISTORY_RETENTION", &c.Sessions.Retention)
	setString("STAN_MODEL_URL", &c.Model.URL)
	setString("STAN_MODEL_NAME", &c.Model.Name)
	setFloat("STAN_TEMPERATURE", &c.Model.Temperature)
	setInt("STAN_MAX_TOKENS", &c.Model.MaxTokens)
	setString("STAN_LOG_LEVEL", &c.LogLevel)
	setString("STAN_LOG_FORMAT", &c.LogFormat)
}

// Validate checks the configuration for values that would misbehave at
// runtime.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen port %d out of range", c.Listen.Port)
	}
	if c.Sessions.Max < 1 {
		return fmt.Errorf("session ceiling must be positive, got %d", c.Sessions.Max)
	}
	if c.Sessions.TimeoutHours < 1 {
		return fmt.Errorf("session timeout must be at least one hour, got %d", c.Sessions.TimeoutHours)
	}
	if c.Sessions.Retention < 1 {
		return fmt.Errorf("history retention must be positive, got %d", c.Sessions.Retention)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (expected text or json)", c.LogFormat)
	}
	return nil
}
