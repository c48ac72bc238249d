package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// WebConfig holds the web tier configuration on top of common fields.
type WebConfig struct {
	App           AppConfig           `yaml:"app" validate:"required"`
	Server        ServerConfig        `yaml:"server" validate:"required"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth" validate:"required"`
	Session       SessionConfig       `yaml:"session" validate:"required"`
	CSRF          CSRFConfig          `yaml:"csrf"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Upstream      UpstreamConfig      `yaml:"upstream" validate:"required"`
}

// AppConfig identifies the service.
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version" validate:"required"`
	Environment string `yaml:"environment" validate:"required,oneof=dev staging prod"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `yaml:"host" validate:"required"`
	Port            int    `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds log/trace/metrics settings.
type ObservabilityConfig struct {
	Log     LogConfig     `yaml:"log"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// TraceConfig configures OpenTelemetry tracing.
type TraceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig holds identity provider settings.
type AuthConfig struct {
	// URL is the identity provider base URL; the auth API lives under /auth/v1.
	URL       string `yaml:"url" validate:"required,url"`
	AnonKey   string `yaml:"anon_key" env:"FIXFIRST_AUTH_ANON_KEY" validate:"required"`
	JWTSecret string `yaml:"jwt_secret" env:"FIXFIRST_AUTH_JWT_SECRET"`
	// SiteURL is the public origin of this service, used to build redirect_to URLs.
	SiteURL  string `yaml:"site_url" validate:"required,url"`
	Provider string `yaml:"provider"`
	Timeout  string `yaml:"timeout"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	Store         string             `yaml:"store" validate:"omitempty,oneof=redis memory"`
	Redis         RedisSessionConfig `yaml:"redis"`
	TTL           string             `yaml:"ttl"`
	Prefix        string             `yaml:"prefix"`
	Sliding       bool               `yaml:"sliding"`
	RefreshMargin string             `yaml:"refresh_margin"`
}

// RedisSessionConfig holds Redis connection parameters for session storage.
type RedisSessionConfig struct {
	Addr       string `yaml:"addr" validate:"required_if=Enabled true"`
	Password   string `yaml:"password" env:"FIXFIRST_REDIS_PASSWORD"`
	DB         int    `yaml:"db"`
	MasterName string `yaml:"master_name"`
	Enabled    bool   `yaml:"-"`
}

// CSRFConfig holds CSRF protection settings.
type CSRFConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HeaderName string `yaml:"header_name"`
}

// RateLimitConfig throttles the handshake endpoints per client IP.
type RateLimitConfig struct {
	Enabled bool   `yaml:"enabled"`
	Window  string `yaml:"window"`
	Limit   int    `yaml:"limit" validate:"min=0"`
}

// UpstreamConfig holds the analysis backend base URL.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Timeout string `yaml:"timeout"`
}

// UsesRedis reports whether sessions are kept in Redis.
func (c *SessionConfig) UsesRedis() bool {
	return c.Store == "" || c.Store == "redis"
}

// ParseDuration parses a duration string with a fallback default.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load reads the base YAML configuration, optionally merges an environment overlay
// and finally applies secret overrides from the process environment.
func Load(basePath string, envPath ...string) (*WebConfig, error) {
	data, err := os.ReadFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg WebConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(envPath) > 0 && envPath[0] != "" {
		envData, err := os.ReadFile(envPath[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read env config: %w", err)
		}
		if err := yaml.Unmarshal(envData, &cfg); err != nil {
			return nil, fmt.Errorf("failed to merge env config: %w", err)
		}
	}

	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("failed to apply auth env overrides: %w", err)
	}
	if err := env.Parse(&cfg.Session.Redis); err != nil {
		return nil, fmt.Errorf("failed to apply redis env overrides: %w", err)
	}
	cfg.Session.Redis.Enabled = cfg.Session.UsesRedis()

	return &cfg, nil
}

// Validate runs struct-tag validation over the loaded configuration.
func (c *WebConfig) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
