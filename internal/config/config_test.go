package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenmeter.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8000" {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, ":8000")
	}
	if cfg.Mode != ModeProduction {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeProduction)
	}
	if cfg.RateLimit.Requests != 100 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit = %+v, want 100/min", cfg.RateLimit)
	}
	if cfg.Tokenizer.DefaultModel != "gpt-3.5-turbo" {
		t.Errorf("DefaultModel = %q, want gpt-3.5-turbo", cfg.Tokenizer.DefaultModel)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should default to enabled")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TM_TEST_USER", "alice")
	t.Setenv("TM_TEST_PASS", "s3cret")

	path := writeConfig(t, `
auth:
  username: ${TM_TEST_USER}
  password: ${TM_TEST_PASS}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Username != "alice" || cfg.Auth.Password != "s3cret" {
		t.Errorf("auth = %q/%q, want expanded values", cfg.Auth.Username, cfg.Auth.Password)
	}
}

func TestLoad_UnsetEnvVarLeftVerbatim(t *testing.T) {
	data := expandEnv([]byte("user: ${TM_DEFINITELY_UNSET_VAR}"))
	if string(data) != "user: ${TM_DEFINITELY_UNSET_VAR}" {
		t.Errorf("expandEnv rewrote an unset variable: %q", data)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
mode: development
auth:
  username: u
  password: p
rate_limit:
  requests: 5
  window: 10s
tokenizer:
  default_model: gpt-4
  max_text_length: 2048
  max_batch_size: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Mode != ModeDevelopment {
		t.Errorf("Mode = %q, want development", cfg.Mode)
	}
	if cfg.RateLimit.Requests != 5 || cfg.RateLimit.Window != 10*time.Second {
		t.Errorf("RateLimit = %+v, want 5/10s", cfg.RateLimit)
	}
	if cfg.Tokenizer.MaxBatchSize != 10 {
		t.Errorf("MaxBatchSize = %d, want 10", cfg.Tokenizer.MaxBatchSize)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with auth disabled", func(c *Config) {
			off := false
			c.Auth.Enabled = &off
		}, false},
		{"auth enabled without credentials", func(*Config) {}, true},
		{"unknown mode", func(c *Config) {
			off := false
			c.Auth.Enabled = &off
			c.Mode = "staging"
		}, true},
		{"zero window with limiting on", func(c *Config) {
			off := false
			c.Auth.Enabled = &off
			c.RateLimit.Window = 0
		}, true},
		{"missing default model", func(c *Config) {
			off := false
			c.Auth.Enabled = &off
			c.Tokenizer.DefaultModel = ""
		}, true},
		{"non-positive batch size", func(c *Config) {
			off := false
			c.Auth.Enabled = &off
			c.Tokenizer.MaxBatchSize = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}
