package authcore

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full client configuration. Zero sections fall back to
// DefaultConfig values through Builder.
type Config struct {
	Backend BackendConfig `toml:"backend"`
	Store   StoreConfig   `toml:"store"`
	MFA     MFAConfig     `toml:"mfa"`
	Audit   AuditConfig   `toml:"audit"`
	Metrics MetricsConfig `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
}

/*
====================================
BACKEND
====================================
*/

// BackendConfig describes the collaborator and the gateway transport.
type BackendConfig struct {
	BaseURL   string        `toml:"base_url"`
	Timeout   time.Duration `toml:"timeout"`
	UserAgent string        `toml:"user_agent"`

	// RequestsPerSecond > 0 enables a client-side outbound throttle.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

/*
====================================
CREDENTIAL STORE
====================================
*/

// StoreBackend selects where the credential pair survives restarts.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreRedis  StoreBackend = "redis"
)

// StoreConfig configures credential persistence.
type StoreConfig struct {
	Backend       StoreBackend  `toml:"backend"`
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	Prefix        string        `toml:"prefix"`
	Name          string        `toml:"name"`
	TTL           time.Duration `toml:"ttl"`
}

// MFAConfig controls how provisioning keys are labelled.
type MFAConfig struct {
	Issuer string `toml:"issuer"`
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"latency_histograms"`
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a configuration that validates once Backend.BaseURL is set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:   "http://localhost:8000/api",
			Timeout:   10 * time.Second,
			UserAgent: "authcore",
			Burst:     1,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Prefix:  "acc",
			Name:    "default",
		},
		MFA: MFAConfig{
			Issuer: "authcore",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

/*
====================================
LOADING
====================================
*/

// LoadConfigFile decodes a TOML file over DefaultConfig. Keys absent from the file
// keep their defaults; unknown keys are rejected.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrConfigInvalid, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ApplyEnv overrides fields from AUTHCORE_* environment variables. Malformed
// numeric or duration values are reported, not ignored.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

// ApplyEnvFrom is ApplyEnv reading from lookup instead of the process environment.
func (c *Config) ApplyEnvFrom(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return c.applyEnv(lookup)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("AUTHCORE_BASE_URL", &c.Backend.BaseURL)
	dur("AUTHCORE_TIMEOUT", &c.Backend.Timeout)
	if v, ok := lookup("AUTHCORE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("AUTHCORE_RPS: %w", err))
		} else {
			c.Backend.RequestsPerSecond = f
		}
	}
	integer("AUTHCORE_BURST", &c.Backend.Burst)

	var backend string
	str("AUTHCORE_STORE", &backend)
	if backend != "" {
		c.Store.Backend = StoreBackend(backend)
	}
	str("AUTHCORE_REDIS_ADDR", &c.Store.RedisAddr)
	str("AUTHCORE_REDIS_PASSWORD", &c.Store.RedisPassword)
	integer("AUTHCORE_REDIS_DB", &c.Store.RedisDB)
	str("AUTHCORE_STORE_PREFIX", &c.Store.Prefix)
	dur("AUTHCORE_STORE_TTL", &c.Store.TTL)

	boolean("AUTHCORE_AUDIT", &c.Audit.Enabled)
	boolean("AUTHCORE_METRICS", &c.Metrics.Enabled)
	str("AUTHCORE_LOG_LEVEL", &c.Log.Level)
	str("AUTHCORE_LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field, wrapped in ErrConfigInvalid.
func (c *Config) Validate() error {
	bad := func(msg string) error {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, msg)
	}

	// Backend
	if c.Backend.BaseURL == "" {
		return bad("Backend BaseURL is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return bad("Backend BaseURL must be an absolute http(s) url")
	}
	if c.Backend.Timeout < 0 {
		return bad("Backend Timeout must be >= 0")
	}
	if c.Backend.RequestsPerSecond < 0 {
		return bad("Backend RequestsPerSecond must be >= 0")
	}
	if c.Backend.RequestsPerSecond > 0 && c.Backend.Burst <= 0 {
		return bad("Backend Burst must be > 0 when RequestsPerSecond is set")
	}

	// Store
	switch c.Store.Backend {
	case StoreMemory, "":
	case StoreRedis:
		if c.Store.Prefix == "" || c.Store.Name == "" {
			return bad("Store Prefix and Name are required for redis")
		}
	default:
		return bad("Store Backend must be memory or redis")
	}
	if c.Store.TTL < 0 {
		return bad("Store TTL must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return bad("Audit BufferSize must be > 0 when enabled")
	}

	// Log
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return bad("Log Format must be text or json")
	}

	return nil
}
