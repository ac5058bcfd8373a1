package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all cartsync configuration
type Config struct {
	App        AppConfig
	Log        LogConfig
	Backend    BackendConfig
	Store      StoreConfig
	DevBackend DevBackendConfig
	Telemetry  TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// BackendConfig describes the storefront REST backend the gateways talk to
type BackendConfig struct {
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerSecond float64 // 0 disables client-side rate limiting
	Burst             int
}

// StoreConfig selects where the guest cart and credential persist
type StoreConfig struct {
	Driver   string // memory, file, redis, sqlite
	Path     string // directory for file, database file for sqlite
	CartKey  string
	TokenKey string
	Redis    RedisConfig
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DevBackendConfig configures the development backend server
type DevBackendConfig struct {
	Port           string
	JWTSecret      string
	TokenTTL       time.Duration
	IdempotencyTTL time.Duration
	UseRedis       bool // keep idempotency records in Store.Redis instead of memory
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
}

const (
	// DefaultCartKey is the local store key of the guest cart
	DefaultCartKey = "storefront.guest_cart"
	// DefaultTokenKey is the local store key of the session credential
	DefaultTokenKey = "storefront.session_token"
)

var validDrivers = map[string]bool{"memory": true, "file": true, "redis": true, "sqlite": true}

// Load reads configuration from cartsync.toml (searched in the working
// directory and $HOME/.cartsync, or the explicit file when configFile is set)
// and CARTSYNC_* environment variables.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cartsync")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cartsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CARTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Backend: BackendConfig{
			BaseURL:           v.GetString("backend.base_url"),
			Timeout:           v.GetDuration("backend.timeout"),
			MaxRetries:        v.GetInt("backend.max_retries"),
			RetryDelay:        v.GetDuration("backend.retry_delay"),
			RequestsPerSecond: v.GetFloat64("backend.requests_per_second"),
			Burst:             v.GetInt("backend.burst"),
		},
		Store: StoreConfig{
			Driver:   v.GetString("store.driver"),
			Path:     v.GetString("store.path"),
			CartKey:  v.GetString("store.cart_key"),
			TokenKey: v.GetString("store.token_key"),
			Redis: RedisConfig{
				Host:      v.GetString("store.redis.host"),
				Port:      v.GetInt("store.redis.port"),
				Password:  v.GetString("store.redis.password"),
				DB:        v.GetInt("store.redis.db"),
				KeyPrefix: v.GetString("store.redis.key_prefix"),
			},
		},
		DevBackend: DevBackendConfig{
			Port:           v.GetString("dev_backend.port"),
			JWTSecret:      v.GetString("dev_backend.jwt_secret"),
			TokenTTL:       v.GetDuration("dev_backend.token_ttl"),
			IdempotencyTTL: v.GetDuration("dev_backend.idempotency_ttl"),
			UseRedis:       v.GetBool("dev_backend.use_redis"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
		},
	}
	if !v.IsSet("telemetry.sampling_ratio") {
		cfg.Telemetry.SamplingRatio = 1.0
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "cartsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:8080/api/v1"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 10 * time.Second
	}
	if cfg.Backend.MaxRetries == 0 {
		cfg.Backend.MaxRetries = 2
	}
	if cfg.Backend.RetryDelay == 0 {
		cfg.Backend.RetryDelay = 200 * time.Millisecond
	}
	if cfg.Backend.Burst == 0 {
		cfg.Backend.Burst = 5
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "file"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = ".cartsync"
	}
	if cfg.Store.CartKey == "" {
		cfg.Store.CartKey = DefaultCartKey
	}
	if cfg.Store.TokenKey == "" {
		cfg.Store.TokenKey = DefaultTokenKey
	}
	if cfg.Store.Redis.Host == "" {
		cfg.Store.Redis.Host = "localhost"
	}
	if cfg.Store.Redis.Port == 0 {
		cfg.Store.Redis.Port = 6379
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = "cartsync:"
	}
	if cfg.DevBackend.Port == "" {
		cfg.DevBackend.Port = "8080"
	}
	if cfg.DevBackend.JWTSecret == "" {
		cfg.DevBackend.JWTSecret = "cartsync-dev-secret-change-me-0123456789"
	}
	if cfg.DevBackend.TokenTTL == 0 {
		cfg.DevBackend.TokenTTL = time.Hour
	}
	if cfg.DevBackend.IdempotencyTTL == 0 {
		cfg.DevBackend.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute http(s) URL, got %q", c.Backend.BaseURL)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout cannot be negative")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries cannot be negative")
	}
	if c.Backend.RequestsPerSecond < 0 {
		return fmt.Errorf("backend.requests_per_second cannot be negative")
	}
	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("store.driver must be one of memory, file, redis, sqlite, got %q", c.Store.Driver)
	}
	if c.Store.CartKey == c.Store.TokenKey {
		return fmt.Errorf("store.cart_key and store.token_key must differ")
	}

	if c.App.Env == "production" {
		if len(c.DevBackend.JWTSecret) < 32 {
			return fmt.Errorf("dev_backend.jwt_secret must be at least 32 characters in production")
		}
		if u.Scheme != "https" {
			return fmt.Errorf("backend.base_url must use https in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}
