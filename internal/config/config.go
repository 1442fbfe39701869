package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	SolrURL           string `env:"SOLR_URL,required=true"`
	JobsDir           string `env:"JOBS_DIR,default=./jobs"`
	AlertAddress      string `env:"ALERT_ADDRESS"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=8"`
	MaxRunRetries     int    `env:"MAX_RUN_RETRIES,default=3"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	SendTimeoutRaw       string `env:"SEND_TIMEOUT,default=30s"`
	BatchTimeoutRaw      string `env:"BATCH_TIMEOUT,default=30m"`
	RetryScanIntervalRaw string `env:"RETRY_SCAN_INTERVAL,default=1m"`

	SendTimeout       time.Duration
	BatchTimeout      time.Duration
	RetryScanInterval time.Duration
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SendTimeout, err = parseDuration("SEND_TIMEOUT", cfg.SendTimeoutRaw); err != nil {
		return nil, err
	}
	if cfg.BatchTimeout, err = parseDuration("BATCH_TIMEOUT", cfg.BatchTimeoutRaw); err != nil {
		return nil, err
	}
	if cfg.RetryScanInterval, err = parseDuration("RETRY_SCAN_INTERVAL", cfg.RetryScanIntervalRaw); err != nil {
		return nil, err
	}

	if cfg.WorkerConcurrency <= 0 {
		return nil, fmt.Errorf("failed to load config: WORKER_CONCURRENCY must be positive, got %d", cfg.WorkerConcurrency)
	}
	if cfg.MaxRunRetries < 0 {
		return nil, fmt.Errorf("failed to load config: MAX_RUN_RETRIES must not be negative, got %d", cfg.MaxRunRetries)
	}

	return &cfg, nil
}

// parseDuration accepts Go durations ("45s") and bare seconds ("45").
func parseDuration(name string, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(trimmed)
	if err != nil {
		seconds, convErr := time.ParseDuration(trimmed + "s")
		if convErr != nil {
			return 0, fmt.Errorf("failed to load config: invalid %s %q: %w", name, raw, err)
		}
		d = seconds
	}
	if d < 0 {
		return 0, fmt.Errorf("failed to load config: %s must not be negative", name)
	}
	return d, nil
}
