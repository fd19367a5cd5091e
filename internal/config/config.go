// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Identity      IdentityConfig           `yaml:"identity"`
	Definitions   DefinitionsConfig        `yaml:"definitions"`
	Specs         SpecsConfig              `yaml:"specs"`
	Services      map[string]ServiceConfig `yaml:"services"`
	Sources       SourcesConfig            `yaml:"sources"`
	Sessions      SessionsConfig           `yaml:"sessions"`
	Bulk          BulkConfig               `yaml:"bulk"`
	Capability    CapabilityConfig         `yaml:"capability"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// DefinitionsConfig describes where to find list definition YAML files.
type DefinitionsConfig struct {
	Directories    []string      `yaml:"directories"`
	HotReload      bool          `yaml:"hot_reload"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// SpecsConfig describes where to find OpenAPI documents for rest sources.
type SpecsConfig struct {
	Directory string       `yaml:"directory"`
	Sources   []SpecSource `yaml:"sources"`
}

// SpecSource maps a service ID to an OpenAPI spec file.
type SpecSource struct {
	ServiceID string `yaml:"service_id"`
	SpecFile  string `yaml:"spec_file"`
}

// ServiceConfig describes a backend service behind a rest source.
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	Auth           ServiceAuthConfig    `yaml:"auth"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// ServiceAuthConfig describes authentication for backend calls.
// Strategy is "forward_token" (default) or "none".
type ServiceAuthConfig struct {
	Strategy string `yaml:"strategy"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings per service.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// SourcesConfig holds driver-level settings shared by all lists bound to
// the same driver.
type SourcesConfig struct {
	FixturesDir string         `yaml:"fixtures_dir"`
	Postgres    PostgresConfig `yaml:"postgres"`
	SQLite      SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig describes the Postgres connection pool used by postgres
// sources. The DSN is read from the environment variable named by DSNEnv.
type PostgresConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// SQLiteConfig describes the database file used by sqlite sources.
type SQLiteConfig struct {
	Path        string `yaml:"path"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// SessionsConfig describes where per-user view state is kept.
type SessionsConfig struct {
	Driver   string        `yaml:"driver"`
	TTL      time.Duration `yaml:"ttl"`
	MaxViews int           `yaml:"max_views"`
	Redis    RedisConfig   `yaml:"redis"`
	Bolt     BoltConfig    `yaml:"bolt"`
}

// RedisConfig describes a Redis connection. The address is read from the
// environment variable named by AddrEnv.
type RedisConfig struct {
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
	Prefix  string `yaml:"prefix"`
}

// BoltConfig describes a bbolt database file.
type BoltConfig struct {
	Path string `yaml:"path"`
}

// BulkConfig describes bulk action execution.
type BulkConfig struct {
	Concurrency int               `yaml:"concurrency"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Store   IdempotencyStoreConfig `yaml:"store"`
}

// IdempotencyStoreConfig describes idempotency persistence settings.
type IdempotencyStoreConfig struct {
	Driver     string        `yaml:"driver"`
	Redis      RedisConfig   `yaml:"redis"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Session store drivers.
const (
	SessionDriverMemory = "memory"
	SessionDriverRedis  = "redis"
	SessionDriverBolt   = "bolt"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Definitions: DefinitionsConfig{
			Directories:    []string{"/definitions"},
			ReloadInterval: 30 * time.Second,
		},
		Specs: SpecsConfig{
			Directory: "/specs",
		},
		Sources: SourcesConfig{
			FixturesDir: "/fixtures",
			Postgres: PostgresConfig{
				DSNEnv:          "VENDORDESK_POSTGRES_DSN",
				MaxConns:        10,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Sessions: SessionsConfig{
			Driver:   SessionDriverMemory,
			TTL:      24 * time.Hour,
			MaxViews: 10000,
			Redis: RedisConfig{
				AddrEnv: "VENDORDESK_REDIS_ADDR",
				Prefix:  "vd:view:",
			},
		},
		Bulk: BulkConfig{
			Concurrency: 4,
			Idempotency: IdempotencyConfig{
				Store: IdempotencyStoreConfig{
					Driver: "memory",
					Redis: RedisConfig{
						AddrEnv: "VENDORDESK_REDIS_ADDR",
						Prefix:  "vd:idem:",
					},
					DefaultTTL: 24 * time.Hour,
				},
			},
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads the YAML file at path over Defaults, applies VENDORDESK_*
// environment overrides and validates the result. Unknown keys are errors.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := applyEnvOverrides(cfg, getenv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid or missing setting, not just the first.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port >= 1 && c.Server.Port <= 65535, "server.port must be between 1 and 65535")
	check(c.Identity.Issuer != "", "identity.issuer is required")
	check(c.Identity.JWKSURL != "", "identity.jwks_url is required")
	check(c.Identity.Audience != "", "identity.audience is required")
	check(len(c.Definitions.Directories) > 0, "definitions.directories must list at least one directory")

	switch c.Sessions.Driver {
	case SessionDriverMemory, SessionDriverRedis:
	case SessionDriverBolt:
		check(c.Sessions.Bolt.Path != "", "sessions.bolt.path is required for the bolt driver")
	default:
		check(false, "sessions.driver %q must be memory, redis or bolt", c.Sessions.Driver)
	}
	check(c.Sessions.TTL >= 0, "sessions.ttl must not be negative")

	check(c.Bulk.Concurrency >= 1, "bulk.concurrency must be at least 1")
	if c.Bulk.Idempotency.Enabled {
		d := c.Bulk.Idempotency.Store.Driver
		check(d == "memory" || d == "redis", "bulk.idempotency.store.driver %q must be memory or redis", d)
	}

	for _, id := range slices.Sorted(maps.Keys(c.Services)) {
		check(c.Services[id].BaseURL != "", "services.%s.base_url is required", id)
	}

	tr := c.Observability.Tracing
	check(tr.SamplingRate >= 0 && tr.SamplingRate <= 1, "observability.tracing.sampling_rate must be within [0, 1]")
	if c.Observability.Metrics.Enabled {
		check(strings.HasPrefix(c.Observability.Metrics.Path, "/"), "observability.metrics.path must start with /")
	}

	return errors.Join(errs...)
}

// envOverride maps one environment variable onto a config field.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func stringField(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

var envOverrides = []envOverride{
	{"VENDORDESK_SERVER_PORT", intField(func(c *Config) *int { return &c.Server.Port })},
	{"VENDORDESK_IDENTITY_ISSUER", stringField(func(c *Config) *string { return &c.Identity.Issuer })},
	{"VENDORDESK_IDENTITY_JWKS_URL", stringField(func(c *Config) *string { return &c.Identity.JWKSURL })},
	{"VENDORDESK_IDENTITY_AUDIENCE", stringField(func(c *Config) *string { return &c.Identity.Audience })},
	{"VENDORDESK_DEFINITIONS_DIRS", func(c *Config, v string) error {
		c.Definitions.Directories = strings.Split(v, ",")
		return nil
	}},
	{"VENDORDESK_SESSIONS_DRIVER", stringField(func(c *Config) *string { return &c.Sessions.Driver })},
	{"VENDORDESK_BULK_CONCURRENCY", intField(func(c *Config) *int { return &c.Bulk.Concurrency })},
	{"VENDORDESK_OBSERVABILITY_LOG_LEVEL", stringField(func(c *Config) *string { return &c.Observability.LogLevel })},
	{"VENDORDESK_OBSERVABILITY_LOG_FORMAT", stringField(func(c *Config) *string { return &c.Observability.LogFormat })},
}

// applyEnvOverrides applies the set VENDORDESK_* variables over cfg.
func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	var errs []error
	for _, o := range envOverrides {
		v := getenv(o.name)
		if v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.name, err))
		}
	}
	return errors.Join(errs...)
}
