// Package config loads runtime configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"costledger/internal/core/retry"
	"costledger/internal/domain/valuation"
	"costledger/pkg/logger"
)

// Config holds runtime configuration for the valuation engine and its tools.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL        string        `envconfig:"DATABASE_URL"`
	DBMaxConns         int32         `envconfig:"DB_MAX_CONNS" default:"25"`
	DBStatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"30s"`
	DBSlowQuery        time.Duration `envconfig:"DB_SLOW_QUERY" default:"500ms"`

	// RedisAddr empty selects the in-process cache.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	EventsChannel string        `envconfig:"EVENTS_CHANNEL" default:"costledger.events"`
	CacheTTL      time.Duration `envconfig:"VALUATION_CACHE_TTL" default:"5m"`

	DefaultMethod  string `envconfig:"VALUATION_DEFAULT_METHOD" default:"FIFO"`
	Workers        int    `envconfig:"VALUATION_WORKERS" default:"8"`
	FallbackPolicy string `envconfig:"COGS_FALLBACK_POLICY" default:"zero"`

	RetryMaxAttempts     int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryInitialInterval time.Duration `envconfig:"RETRY_INITIAL_INTERVAL" default:"20ms"`
	RetryMaxInterval     time.Duration `envconfig:"RETRY_MAX_INTERVAL" default:"500ms"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := valuation.ParseMethod(c.DefaultMethod); err != nil {
		errs = append(errs, err)
	}
	if _, err := valuation.ParseFallbackPolicy(c.FallbackPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("VALUATION_WORKERS must be positive, got %d", c.Workers))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.RetryMaxAttempts))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("VALUATION_CACHE_TTL must be positive, got %s", c.CacheTTL))
	}
	return errors.Join(errs...)
}

// RequireDatabase fails when DATABASE_URL is missing.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be provided")
	}
	return nil
}

// IsDevelopment reports whether the tools run on a developer machine.
func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

// Logger returns the logger configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:       c.LogLevel,
		Development: c.IsDevelopment(),
		Service:     "costledger",
	}
}

// Valuation returns the service configuration. Validate must have passed.
func (c *Config) Valuation() valuation.Config {
	method, _ := valuation.ParseMethod(c.DefaultMethod)
	policy, _ := valuation.ParseFallbackPolicy(c.FallbackPolicy)
	return valuation.Config{
		DefaultMethod: method,
		Fallback:      policy,
		Workers:       c.Workers,
		Retry: retry.Policy{
			MaxAttempts:     c.RetryMaxAttempts,
			InitialInterval: c.RetryInitialInterval,
			MaxInterval:     c.RetryMaxInterval,
			Multiplier:      2,
		},
	}
}
