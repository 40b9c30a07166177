// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Limiter scopes accepted by probe.limiter_scope.
const (
	LimiterScopeGlobal  = "global"
	LimiterScopeRequest = "request"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host                   string `mapstructure:"host" validate:"required"`
	Port                   int    `mapstructure:"port" validate:"min=1,max=65535"`
	MaxBodyBytes           int64  `mapstructure:"max_body_bytes" validate:"min=1"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds" validate:"min=1"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"min=0"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key" validate:"required_if=Enabled true"`
}

// CORSConfig mirrors the permissive policy browsers expect from the service.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxAgeSeconds  int      `mapstructure:"max_age_seconds" validate:"min=0"`
}

// ProbeConfig governs the probe limiter and HTTP client.
type ProbeConfig struct {
	MaxParallelTasks int    `mapstructure:"max_parallel_tasks" validate:"min=1"`
	LimiterScope     string `mapstructure:"limiter_scope" validate:"oneof=global request"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds" validate:"min=1"`
	UserAgent        string `mapstructure:"user_agent"`
}

// RateLimitConfig configures optional per-host pacing.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	PerHostRPS   float64 `mapstructure:"per_host_rps" validate:"gte=0,required_if=Enabled true"`
	PerHostBurst int     `mapstructure:"per_host_burst" validate:"gte=0"`
}

// ProgressConfig configures the progress hub and its sinks.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	LogEnabled     bool `mapstructure:"log_enabled"`
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	BufferSize     int  `mapstructure:"buffer_size" validate:"gte=0"`
	MaxBatchEvents int  `mapstructure:"max_batch_events" validate:"gte=0"`
	MaxBatchWaitMS int  `mapstructure:"max_batch_wait_ms" validate:"gte=0"`
	SinkTimeoutMS  int  `mapstructure:"sink_timeout_ms" validate:"gte=0"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name" validate:"required"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
	SampleRatio    float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// legacyEnv maps keys to the bare variable names older deployments set.
var legacyEnv = map[string]string{
	"server.host":              "HOST",
	"server.port":              "PORT",
	"probe.max_parallel_tasks": "MAX_PARALLEL_TASKS",
}

const envPrefix = "URLHEALTH"

// Load builds a Config from defaults, an optional file, and the environment.
// Environment variables use the URLHEALTH_ prefix with dots replaced by
// underscores (URLHEALTH_PROBE_MAX_PARALLEL_TASKS). HOST, PORT and
// MAX_PARALLEL_TASKS are honored when the prefixed form is unset.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Probe.LimiterScope = strings.ToLower(cfg.Probe.LimiterScope)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.max_age_seconds", 3600)
	v.SetDefault("probe.max_parallel_tasks", 20)
	v.SetDefault("probe.limiter_scope", LimiterScopeGlobal)
	v.SetDefault("probe.timeout_seconds", 15)
	v.SetDefault("probe.user_agent", "urlhealth/1.0")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.per_host_rps", 5.0)
	v.SetDefault("rate_limit.per_host_burst", 5)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.metrics_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "urlhealth")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

// Validate enforces required values and reasonable limits. Errors name the
// offending keys the way they appear in config files (e.g. server.port).
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := fe.Namespace()
		if _, rest, ok := strings.Cut(key, "."); ok {
			key = rest
		}
		msgs = append(msgs, describe(key, fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(key string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", key, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be >= %s", key, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be <= %s", key, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", key, fe.Tag())
	}
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ProbeTimeout is the per-probe HTTP timeout.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds non-streaming API handlers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
