package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/tracing"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "/app/config/grounding.yaml"

// Rate limit backends
const (
	BackendRedis = "redis"
	BackendLocal = "local"
	BackendOff   = "off"
)

type GoogleConfig struct {
	ProjectID        string `mapstructure:"project_id"`
	Region           string `mapstructure:"region"`
	CredentialsJSON  string `mapstructure:"credentials_json"`
	APIKey           string `mapstructure:"api_key"`
	PermissiveSafety bool   `mapstructure:"permissive_safety"`
	ProbeModel       string `mapstructure:"probe_model"`
	ProbeOnStartup   bool   `mapstructure:"probe_on_startup"`
}

type RateLimitConfig struct {
	Backend           string `mapstructure:"backend"`
	RedisURL          string `mapstructure:"redis_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

type AuthConfig struct {
	APIKey    string `mapstructure:"api_key"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type CitationsConfig struct {
	RewriteMode string `mapstructure:"rewrite_mode"`
}

// Config is the full gateway configuration.
type Config struct {
	HTTP struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"http"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Google    GoogleConfig    `mapstructure:"google"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Citations CitationsConfig `mapstructure:"citations"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Registry  struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"registry"`
}

// envBindings maps config keys to the deployment environment names.
var envBindings = map[string]string{
	"http.port":                      "HTTP_PORT",
	"logging.level":                  "LOG_LEVEL",
	"google.project_id":              "GOOGLE_PROJECT_ID",
	"google.region":                  "GOOGLE_CLOUD_REGION",
	"google.credentials_json":        "VERTEX_API_KEY_JSON",
	"google.api_key":                 "GEMINI_API_KEY",
	"google.permissive_safety":       "USE_PERMISSIVE_SAFETY",
	"google.probe_on_startup":        "GEMINI_PROBE_ON_STARTUP",
	"rate_limit.backend":             "RATE_LIMIT_BACKEND",
	"rate_limit.redis_url":           "RATE_LIMIT_REDIS_URL",
	"rate_limit.requests_per_minute": "RATE_LIMIT_DEFAULT_REQUESTS_PER_MINUTE",
	"auth.api_key":                   "GATEWAY_API_KEY",
	"auth.jwt_secret":                "JWT_SECRET",
	"citations.rewrite_mode":         "CITATION_REWRITE_MODE",
	"tracing.enabled":                "OTEL_ENABLED",
	"tracing.otlp_endpoint":          "OTEL_EXPORTER_OTLP_ENDPOINT",
	"tracing.service_name":           "OTEL_SERVICE_NAME",
	"tracing.sample_ratio":           "OTEL_TRACES_SAMPLER_ARG",
	"registry.path":                  "MODEL_REGISTRY_PATH",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("google.region", "us-central1")
	v.SetDefault("google.probe_on_startup", true)
	v.SetDefault("rate_limit.requests_per_minute", 10)
	v.SetDefault("citations.rewrite_mode", "replace_all")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "grounding-gateway")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Loader reads configuration and optionally watches the file for changes.
type Loader struct {
	v        *viper.Viper
	fromFile bool
	logger   *zap.Logger
	mu       sync.Mutex
}

// Load reads defaults, then the YAML file at path if it exists, then the
// environment.
func Load(path string, logger *zap.Logger) (*Config, *Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	l := &Loader{v: v, logger: logger}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, nil, fmt.Errorf("read config: %w", err)
			}
			l.fromFile = true
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("stat config: %w", err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func (l *Loader) decode() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	creds, err := CleanCredentialsJSON(cfg.Google.CredentialsJSON)
	if err != nil {
		return nil, err
	}
	cfg.Google.CredentialsJSON = creds
	cfg.RateLimit.Backend = resolveBackend(cfg.RateLimit)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the file on change and hands the new configuration to
// onChange. Invalid updates are logged and ignored. It is a no-op when no
// file was loaded.
func (l *Loader) Watch(onChange func(*Config)) {
	if !l.fromFile {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn("Ignoring invalid config update", zap.String("file", e.Name), zap.Error(err))
			return
		}
		l.logger.Info("Config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	switch c.RateLimit.Backend {
	case BackendRedis:
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("rate_limit.backend redis requires RATE_LIMIT_REDIS_URL")
		}
	case BackendLocal, BackendOff:
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	switch strings.ToLower(c.Citations.RewriteMode) {
	case "", "replace_all", "anchored":
	default:
		return fmt.Errorf("unknown citations.rewrite_mode %q", c.Citations.RewriteMode)
	}
	return nil
}

// resolveBackend enables Redis limiting only when a URL is configured, unless
// a backend was chosen explicitly.
func resolveBackend(rl RateLimitConfig) string {
	b := strings.ToLower(strings.TrimSpace(rl.Backend))
	if b != "" {
		return b
	}
	if rl.RedisURL != "" {
		return BackendRedis
	}
	return BackendOff
}

// CleanCredentialsJSON accepts a service-account key that may be wrapped in a
// pair of single quotes, as docker env files often leave it.
func CleanCredentialsJSON(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if json.Valid([]byte(raw)) {
		return raw, nil
	}
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		s = s[1 : len(s)-1]
	}
	if !json.Valid([]byte(s)) {
		return "", errors.New("VERTEX_API_KEY_JSON contains invalid JSON")
	}
	return s, nil
}
