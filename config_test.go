package authcore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "base url missing",
			mutate: func(c *Config) {
				c.Backend.BaseURL = ""
			},
			wantValid: false,
		},
		{
			name: "base url relative",
			mutate: func(c *Config) {
				c.Backend.BaseURL = "/api"
			},
			wantValid: false,
		},
		{
			name: "base url https",
			mutate: func(c *Config) {
				c.Backend.BaseURL = "https://auth.example.com/api"
			},
			wantValid: true,
		},
		{
			name: "negative timeout",
			mutate: func(c *Config) {
				c.Backend.Timeout = -time.Second
			},
			wantValid: false,
		},
		{
			name: "rate without burst",
			mutate: func(c *Config) {
				c.Backend.RequestsPerSecond = 5
				c.Backend.Burst = 0
			},
			wantValid: false,
		},
		{
			name: "redis store valid",
			mutate: func(c *Config) {
				c.Store.Backend = StoreRedis
				c.Store.RedisAddr = "localhost:6379"
			},
			wantValid: true,
		},
		{
			name: "redis store without name",
			mutate: func(c *Config) {
				c.Store.Backend = StoreRedis
				c.Store.Name = ""
			},
			wantValid: false,
		},
		{
			name: "unknown store",
			mutate: func(c *Config) {
				c.Store.Backend = "sqlite"
			},
			wantValid: false,
		},
		{
			name: "negative ttl",
			mutate: func(c *Config) {
				c.Store.TTL = -time.Minute
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "log format yaml",
			mutate: func(c *Config) {
				c.Log.Format = "yaml"
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid {
				if err == nil {
					t.Fatal("expected invalid config")
				}
				if !errors.Is(err, ErrConfigInvalid) {
					t.Fatalf("expected ErrConfigInvalid, got %v", err)
				}
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcore.toml")
	data := `
[backend]
base_url = "https://auth.example.com/api"
timeout = "3s"
requests_per_second = 20.0
burst = 5

[store]
backend = "redis"
redis_addr = "127.0.0.1:6379"
ttl = "24h"

[log]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.Backend.BaseURL != "https://auth.example.com/api" || cfg.Backend.Timeout != 3*time.Second {
		t.Fatalf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Backend.RequestsPerSecond != 20 || cfg.Backend.Burst != 5 {
		t.Fatalf("unexpected rate settings %+v", cfg.Backend)
	}
	if cfg.Store.Backend != StoreRedis || cfg.Store.TTL != 24*time.Hour {
		t.Fatalf("unexpected store %+v", cfg.Store)
	}
	if cfg.Store.Prefix != "acc" || cfg.Store.Name != "default" {
		t.Fatal("expected absent keys to keep defaults")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected loaded config to validate, got %v", err)
	}
}

func TestLoadConfigFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcore.toml")
	if err := os.WriteFile(path, []byte("[backend]\nbase_uri = \"x\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := LoadConfigFile(path)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"AUTHCORE_BASE_URL":   "http://10.0.0.1:8000/api",
		"AUTHCORE_TIMEOUT":    "2s",
		"AUTHCORE_RPS":        "2.5",
		"AUTHCORE_STORE":      "redis",
		"AUTHCORE_REDIS_ADDR": "redis:6379",
		"AUTHCORE_REDIS_DB":   "3",
		"AUTHCORE_AUDIT":      "true",
		"AUTHCORE_LOG_LEVEL":  "warn",
	}
	cfg := DefaultConfig()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("applyEnv failed: %v", err)
	}
	if cfg.Backend.BaseURL != env["AUTHCORE_BASE_URL"] || cfg.Backend.Timeout != 2*time.Second {
		t.Fatalf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Backend.RequestsPerSecond != 2.5 {
		t.Fatalf("unexpected rps %v", cfg.Backend.RequestsPerSecond)
	}
	if cfg.Store.Backend != StoreRedis || cfg.Store.RedisAddr != "redis:6379" || cfg.Store.RedisDB != 3 {
		t.Fatalf("unexpected store %+v", cfg.Store)
	}
	if !cfg.Audit.Enabled || cfg.Log.Level != "warn" {
		t.Fatal("expected audit and log overrides")
	}
}

func TestApplyEnvReportsMalformedValues(t *testing.T) {
	env := map[string]string{
		"AUTHCORE_TIMEOUT":  "soon",
		"AUTHCORE_REDIS_DB": "three",
		"AUTHCORE_METRICS":  "maybe",
	}
	cfg := DefaultConfig()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err == nil {
		t.Fatal("expected errors for malformed values")
	}
	if cfg.Backend.Timeout != DefaultConfig().Backend.Timeout {
		t.Fatal("expected malformed timeout to leave the default")
	}
}
