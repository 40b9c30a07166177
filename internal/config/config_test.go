package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearLegacyEnv blanks the bare variable names so ambient values do not leak in.
func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for _, name := range legacyEnv {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearLegacyEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("expected default addr 127.0.0.1:8080, got %s", cfg.Addr())
	}
	if cfg.Probe.MaxParallelTasks != 20 || cfg.Probe.LimiterScope != LimiterScopeGlobal {
		t.Fatalf("unexpected probe defaults: %+v", cfg.Probe)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" || cfg.CORS.MaxAgeSeconds != 3600 {
		t.Fatalf("unexpected cors defaults: %+v", cfg.CORS)
	}
	if cfg.ProbeTimeout() != 15*time.Second {
		t.Fatalf("expected 15s probe timeout, got %v", cfg.ProbeTimeout())
	}
	if cfg.Server.MaxBodyBytes != 10<<20 {
		t.Fatalf("expected 10MiB body limit, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.RateLimit.Enabled || !cfg.Progress.Enabled {
		t.Fatalf("unexpected toggles: %+v %+v", cfg.RateLimit, cfg.Progress)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	clearLegacyEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  host: 0.0.0.0
  port: 9090
  shutdown_timeout_seconds: 3
auth:
  enabled: true
  api_key: secret
cors:
  allowed_origins: ["https://app.example.com"]
  max_age_seconds: 60
probe:
  max_parallel_tasks: 64
  limiter_scope: Request
  timeout_seconds: 5
  user_agent: checker/2
rate_limit:
  enabled: true
  per_host_rps: 2.5
  per_host_burst: 1
logging:
  development: true
  level: DEBUG
telemetry:
  tracing_enabled: true
  otlp_endpoint: collector:4317
  sample_ratio: 0.1
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr() != "0.0.0.0:9090" {
		t.Fatalf("expected 0.0.0.0:9090, got %s", cfg.Addr())
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Probe.MaxParallelTasks != 64 || cfg.Probe.LimiterScope != LimiterScopeRequest {
		t.Fatalf("expected probe overrides to apply: %+v", cfg.Probe)
	}
	if cfg.RateLimit.PerHostRPS != 2.5 || cfg.RateLimit.PerHostBurst != 1 {
		t.Fatalf("expected rate limit overrides: %+v", cfg.RateLimit)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Development {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	if cfg.CORS.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("expected cors override: %+v", cfg.CORS)
	}
	if got := cfg.ShutdownTimeout(); got != 3*time.Second {
		t.Fatalf("expected shutdown timeout 3s, got %v", got)
	}
	if !cfg.Telemetry.TracingEnabled || cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Fatalf("expected telemetry overrides: %+v", cfg.Telemetry)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadPrefixedEnv(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("URLHEALTH_PROBE_TIMEOUT_SECONDS", "7")
	t.Setenv("URLHEALTH_SERVER_PORT", "9191")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Probe.TimeoutSeconds != 7 || cfg.Server.Port != 9191 {
		t.Fatalf("expected env overrides, got %+v %+v", cfg.Probe, cfg.Server)
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8181")
	t.Setenv("MAX_PARALLEL_TASKS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8181" || cfg.Probe.MaxParallelTasks != 3 {
		t.Fatalf("expected legacy env to apply, got %s %d", cfg.Addr(), cfg.Probe.MaxParallelTasks)
	}
}

func TestLoadPrefixedEnvWinsOverLegacy(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("PORT", "8181")
	t.Setenv("URLHEALTH_SERVER_PORT", "8282")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8282 {
		t.Fatalf("expected prefixed port 8282, got %d", cfg.Server.Port)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("MAX_PARALLEL_TASKS", "0")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "probe.max_parallel_tasks") {
		t.Fatalf("expected max_parallel_tasks error, got %v", err)
	}
}

func validConfig() Config {
	return Config{
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8080, MaxBodyBytes: 1, RequestTimeoutSeconds: 1},
		Probe:     ProbeConfig{MaxParallelTasks: 1, LimiterScope: LimiterScopeGlobal, TimeoutSeconds: 1},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{ServiceName: "urlhealth"},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid base config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port must be >= 1"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port must be <= 65535"},
		{"missing host", func(c *Config) { c.Server.Host = "" }, "server.host is required"},
		{"invalid parallelism", func(c *Config) { c.Probe.MaxParallelTasks = 0 }, "probe.max_parallel_tasks"},
		{"invalid timeout", func(c *Config) { c.Probe.TimeoutSeconds = 0 }, "probe.timeout_seconds"},
		{"unknown scope", func(c *Config) { c.Probe.LimiterScope = "tenant" }, "probe.limiter_scope must be one of"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key is required"},
		{"rate limit without rps", func(c *Config) { c.RateLimit.Enabled = true }, "rate_limit.per_host_rps"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "telemetry.sample_ratio must be <= 1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
