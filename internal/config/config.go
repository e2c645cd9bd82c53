// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Deployment modes. Mode affects logging verbosity only.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mode      string          `yaml:"mode"` // "development" or "production"
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds HTTP Basic authentication settings. When Enabled is false
// every request is treated as authorized under an anonymous identity.
type AuthConfig struct {
	Enabled  *bool  `yaml:"enabled"` // nil = enabled
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// IsEnabled reports whether authentication is enabled (defaults to true when nil).
func (a AuthConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// RateLimitConfig holds fixed-window admission settings: at most Requests
// admitted per Window per client identity. Requests <= 0 disables limiting.
type RateLimitConfig struct {
	Requests int64         `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// TokenizerConfig holds counting limits and the default model.
type TokenizerConfig struct {
	DefaultModel  string `yaml:"default_model"`
	MaxTextLength int    `yaml:"max_text_length"` // bytes per text
	MaxBatchSize  int    `yaml:"max_batch_size"`  // items per batch
}

// CacheConfig holds count memoization cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Mode: ModeProduction,
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
		},
		Tokenizer: TokenizerConfig{
			DefaultModel:  "gpt-3.5-turbo",
			MaxTextLength: 100_000,
			MaxBatchSize:  100,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 5 * time.Minute,
		},
	}
}

// Validate checks settings that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Auth.IsEnabled() && (c.Auth.Username == "" || c.Auth.Password == "") {
		return fmt.Errorf("auth enabled but username or password is empty")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.Tokenizer.DefaultModel == "" {
		return fmt.Errorf("tokenizer.default_model must be set")
	}
	if c.Tokenizer.MaxBatchSize <= 0 {
		return fmt.Errorf("tokenizer.max_batch_size must be positive")
	}
	if c.Tokenizer.MaxTextLength <= 0 {
		return fmt.Errorf("tokenizer.max_text_length must be positive")
	}
	return nil
}
