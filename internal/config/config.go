package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"docrelay/internal/ratelimit"
)

// Config holds the core runtime configuration for the service.
// Values are sourced from environment variables, with sensible defaults
// where appropriate. See .env.example.
type Config struct {
	AdminUser     string `env:"APP_ADMIN_USER" envDefault:"admin@example.com"`
	AdminPassword string `env:"APP_ADMIN_PASSWORD" envDefault:"changeme"`

	DatabaseURL string `env:"APP_DATABASE_URL,required,notEmpty"`
	ListenAddr  string `env:"APP_LISTEN_ADDR" envDefault:":8080"`

	LogLevel  string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"APP_LOG_FORMAT" envDefault:"json"`

	// RetentionDays is reported to clients alongside query and export
	// results. Nothing is deleted on this schedule.
	RetentionDays int `env:"APP_RETENTION_DAYS" envDefault:"90"`

	RateLimitMaxRequests   int           `env:"APP_RATE_LIMIT_MAX_REQUESTS" envDefault:"60"`
	RateLimitWindowMs      int64         `env:"APP_RATE_LIMIT_WINDOW_MS" envDefault:"60000"`
	RateLimitSweepInterval time.Duration `env:"APP_RATE_LIMIT_SWEEP_INTERVAL" envDefault:"5m"`

	// RedisURL switches the rate limiter and the mail queue to Redis.
	RedisURL  string `env:"APP_REDIS_URL"`
	MailQueue string `env:"APP_MAIL_QUEUE" envDefault:"email-queue"`

	ChromePath string        `env:"APP_CHROME_PATH"`
	PDFTimeout time.Duration `env:"APP_PDF_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("APP_LOG_FORMAT must be json or console, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

// RateLimitOptions returns the limiter options for the public endpoints.
func (c Config) RateLimitOptions() ratelimit.Options {
	return ratelimit.OptionsFromMillis(c.RateLimitMaxRequests, c.RateLimitWindowMs)
}

// UseRedis reports whether a Redis URL is configured.
func (c Config) UseRedis() bool {
	return c.RedisURL != ""
}
