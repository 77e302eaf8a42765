package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/example/tripquery/internal/trip/store"
	"github.com/example/tripquery/pkg/events"
)

// EnvPrefix prefixes every environment variable read by Load, e.g.
// TRIPS_CACHE_DIR.
const EnvPrefix = "TRIPS"

const (
	BackendDataset   = "dataset"
	BackendSynthetic = "synthetic"
)

// Config is the process configuration shared by the server and the CLI.
type Config struct {
	HTTPAddr      string        `mapstructure:"http_addr"`
	Backend       string        `mapstructure:"backend"`
	CacheDir      string        `mapstructure:"cache_dir"`
	SourceBaseURL string        `mapstructure:"source_base_url"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	FetchLockTTL  time.Duration `mapstructure:"fetch_lock_ttl"`
	MaxResults    int64         `mapstructure:"max_results"`
	WarmMonths    int           `mapstructure:"warm_months"`
	WarmInterval  time.Duration `mapstructure:"warm_interval"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	NATSURL       string        `mapstructure:"nats_url"`
	EventsSubject string        `mapstructure:"events_subject"`
	RateRPS       float64       `mapstructure:"rate_rps"`
	RateBurst     float64       `mapstructure:"rate_burst"`
	LogLevel      string        `mapstructure:"log_level"`
	TraceStdout   bool          `mapstructure:"trace_stdout"`
}

var defaults = map[string]any{
	"http_addr":       ":8080",
	"backend":         BackendDataset,
	"cache_dir":       ".",
	"source_base_url": store.DefaultBaseURL,
	"fetch_timeout":   5 * time.Minute,
	"fetch_lock_ttl":  time.Duration(0),
	"max_results":     10000,
	"warm_months":     0,
	"warm_interval":   time.Hour,
	"redis_addr":      "",
	"nats_url":        "",
	"events_subject":  events.DefaultSubject,
	"rate_rps":        20.0,
	"rate_burst":      40.0,
	"log_level":       "info",
	"trace_stdout":    false,
}

// Load reads defaults, then the optional config file at path, then TRIPS_*
// environment variables, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendDataset:
		if c.CacheDir == "" {
			errs = append(errs, errors.New("cache_dir is required for the dataset backend"))
		}
		if _, err := url.ParseRequestURI(c.SourceBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("source_base_url: %w", err))
		}
		if c.FetchTimeout <= 0 {
			errs = append(errs, errors.New("fetch_timeout must be positive"))
		}
	case BackendSynthetic:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendDataset, BackendSynthetic, c.Backend))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.WarmMonths < 0 {
		errs = append(errs, errors.New("warm_months must not be negative"))
	}
	if c.MaxResults < 0 {
		errs = append(errs, errors.New("max_results must not be negative"))
	}
	if c.RateRPS < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate_rps and rate_burst must not be negative"))
	}
	return errors.Join(errs...)
}

// StoreConfig returns the partition store settings.
func (c Config) StoreConfig() store.Config {
	return store.Config{
		Dir:          c.CacheDir,
		BaseURL:      c.SourceBaseURL,
		FetchTimeout: c.FetchTimeout,
		LockTTL:      c.FetchLockTTL,
	}
}
