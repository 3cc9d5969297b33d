// Package config loads process-level configuration for the poller host:
// logging, where diagnostics are surfaced, batch concurrency, and
// live-query option values.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	env "go-simpler.org/env"
)

// Config is the process-wide configuration loaded once at startup.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint.
	MetricsAddr string `env:"METRICS_ADDR" default:":9090"`

	// DefaultBatchSize is a configured batch size. Must be positive. It is
	// loaded and validated only: Registry.AddSubscription takes its
	// LiveQueryOptions from the caller, and nothing in this module passes
	// this value on.
	DefaultBatchSize int `env:"LIVE_QUERY_BATCH_SIZE" default:"100"`

	// DefaultRefetchInterval is a configured sleep between ticks. Must be
	// positive. Like DefaultBatchSize it is loaded and validated only.
	DefaultRefetchInterval time.Duration `env:"LIVE_QUERY_REFETCH_INTERVAL" default:"1s"`

	// MaxConcurrentBatches bounds how many batches within a single tick
	// execute concurrently.
	MaxConcurrentBatches int `env:"LIVE_QUERY_MAX_CONCURRENT_BATCHES" default:"10"`
}

// Load reads configuration from the environment (and an optional .env
// file), applying defaults and validating the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DefaultBatchSize <= 0 {
		return fmt.Errorf("LIVE_QUERY_BATCH_SIZE must be positive, got %d", cfg.DefaultBatchSize)
	}
	if cfg.DefaultRefetchInterval <= 0 {
		return fmt.Errorf("LIVE_QUERY_REFETCH_INTERVAL must be positive, got %s", cfg.DefaultRefetchInterval)
	}
	if cfg.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("LIVE_QUERY_MAX_CONCURRENT_BATCHES must be positive, got %d", cfg.MaxConcurrentBatches)
	}
	return nil
}
