package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Identity.Audience != "vendordesk" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if !cfg.Definitions.HotReload {
		t.Error("Definitions.HotReload = false, want true")
	}
	if len(cfg.Specs.Sources) != 1 {
		t.Errorf("Specs.Sources = %d entries, want 1", len(cfg.Specs.Sources))
	}

	svc, ok := cfg.Services["orders-svc"]
	if !ok {
		t.Fatal("Services[orders-svc] not found")
	}
	if svc.Timeout != 10*time.Second {
		t.Errorf("orders-svc.Timeout = %v, want 10s", svc.Timeout)
	}
	if svc.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("orders-svc.CircuitBreaker.FailureThreshold = %d, want 5", svc.CircuitBreaker.FailureThreshold)
	}
	if !svc.Retry.IdempotentOnly {
		t.Error("orders-svc.Retry.IdempotentOnly = false, want true")
	}

	if cfg.Sources.SQLite.Path != "./data/lists.db" || !cfg.Sources.SQLite.AutoMigrate {
		t.Errorf("Sources.SQLite = %+v", cfg.Sources.SQLite)
	}
	if cfg.Sources.Postgres.DSNEnv != "VENDORDESK_POSTGRES_DSN" {
		t.Errorf("Sources.Postgres.DSNEnv = %q, want default", cfg.Sources.Postgres.DSNEnv)
	}
	if cfg.Sessions.Driver != SessionDriverBolt || cfg.Sessions.TTL != 12*time.Hour {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.Bulk.Concurrency != 8 {
		t.Errorf("Bulk.Concurrency = %d, want 8", cfg.Bulk.Concurrency)
	}
	if cfg.Bulk.Idempotency.Store.Driver != "redis" || cfg.Bulk.Idempotency.Store.DefaultTTL != time.Hour {
		t.Errorf("Bulk.Idempotency.Store = %+v", cfg.Bulk.Idempotency.Store)
	}
	if cfg.Bulk.Idempotency.Store.Redis.Prefix != "vd:idem:" {
		t.Errorf("idempotency redis prefix = %q, want default", cfg.Bulk.Idempotency.Store.Redis.Prefix)
	}
	if cfg.Observability.LogFormat != "console" {
		t.Errorf("LogFormat = %q, want console", cfg.Observability.LogFormat)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
	if !strings.Contains(err.Error(), "identity.issuer is required") {
		t.Errorf("error = %v, want identity.issuer message", err)
	}
}

func TestLoad_unknown_session_driver(t *testing.T) {
	_, err := Load("testdata/bad_session_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unknown session driver should return error")
	}
	if !strings.Contains(err.Error(), `sessions.driver "etcd"`) {
		t.Errorf("error = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Capability.Cache.TTL != 5*time.Minute {
		t.Errorf("default Capability.Cache.TTL = %v, want 5m", cfg.Capability.Cache.TTL)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if cfg.Sessions.Driver != SessionDriverMemory {
		t.Errorf("default Sessions.Driver = %q, want memory", cfg.Sessions.Driver)
	}
	if cfg.Bulk.Concurrency != 4 {
		t.Errorf("default Bulk.Concurrency = %d, want 4", cfg.Bulk.Concurrency)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VENDORDESK_SERVER_PORT", "3000")
	t.Setenv("VENDORDESK_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("VENDORDESK_IDENTITY_JWKS_URL", "https://env-issuer.com/.well-known/jwks.json")
	t.Setenv("VENDORDESK_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("VENDORDESK_SESSIONS_DRIVER", "memory")
	t.Setenv("VENDORDESK_BULK_CONCURRENCY", "2")
	t.Setenv("VENDORDESK_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Sessions.Driver != SessionDriverMemory {
		t.Errorf("Sessions.Driver = %q, want memory (env override)", cfg.Sessions.Driver)
	}
	if cfg.Bulk.Concurrency != 2 {
		t.Errorf("Bulk.Concurrency = %d, want 2 (env override)", cfg.Bulk.Concurrency)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides_invalidNumberRejected(t *testing.T) {
	env := map[string]string{
		"VENDORDESK_SERVER_PORT":      "not-a-port",
		"VENDORDESK_BULK_CONCURRENCY": "four",
	}
	_, err := load("testdata/valid.yaml", func(k string) string { return env[k] })
	if err == nil {
		t.Fatal("load() accepted non-numeric overrides")
	}
	for _, name := range []string{"VENDORDESK_SERVER_PORT", "VENDORDESK_BULK_CONCURRENCY"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error = %v, want mention of %s", err, name)
		}
	}
}

func TestEnvOverrides_unsetLeavesFileValues(t *testing.T) {
	cfg, err := load("testdata/valid.yaml", func(string) string { return "" })
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Observability.LogLevel != "debug" {
		t.Errorf("port = %d, log level = %q, want file values", cfg.Server.Port, cfg.Observability.LogLevel)
	}
}

func TestLoad_unknownKey(t *testing.T) {
	_, err := Load("testdata/unknown_key.yaml")
	if err == nil || !strings.Contains(err.Error(), "handler_timout") {
		t.Errorf("Load() error = %v, want the misspelt key named", err)
	}
}

func TestValidate_reportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"server.port", "identity.issuer", "identity.jwks_url", "identity.audience"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %v, missing %s", err, want)
		}
	}
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "vendordesk"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with identity", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bolt without path", func(c *Config) { c.Sessions.Driver = SessionDriverBolt }, "sessions.bolt.path"},
		{"bolt with path", func(c *Config) {
			c.Sessions.Driver = SessionDriverBolt
			c.Sessions.Bolt.Path = "/tmp/views.db"
		}, ""},
		{"zero concurrency", func(c *Config) { c.Bulk.Concurrency = 0 }, "bulk.concurrency"},
		{"bad idempotency driver", func(c *Config) {
			c.Bulk.Idempotency.Enabled = true
			c.Bulk.Idempotency.Store.Driver = "bolt"
		}, "bulk.idempotency.store.driver"},
		{"service without base url", func(c *Config) {
			c.Services = map[string]ServiceConfig{"disputes-svc": {}}
		}, "services.disputes-svc.base_url"},
		{"no definition dirs", func(c *Config) { c.Definitions.Directories = nil }, "definitions.directories"},
		{"sampling above one", func(c *Config) { c.Observability.Tracing.SamplingRate = 1.5 }, "sampling_rate"},
		{"relative metrics path", func(c *Config) { c.Observability.Metrics.Path = "metrics" }, "metrics.path"},
		{"metrics path ignored when disabled", func(c *Config) {
			c.Observability.Metrics.Enabled = false
			c.Observability.Metrics.Path = ""
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
