package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	// REDIS_URL is optional; without it sends are not rate limited.
	RedisURL string `env:"REDIS_URL"`

	EmailAPIURL string `env:"EMAIL_API_URL,required=true"`
	EmailAPIKey string `env:"EMAIL_API_KEY"`
	EmailFrom   string `env:"EMAIL_FROM,required=true"`
	AdminEmail  string `env:"ADMIN_EMAIL"`

	TemplateStoreURL  string `env:"TEMPLATE_STORE_URL"`
	TemplateContainer string `env:"TEMPLATE_CONTAINER,default=email-templates"`
	TemplateLocale    string `env:"TEMPLATE_LOCALE,default=es-CO"`
	TemplateTimezone  string `env:"TEMPLATE_TIMEZONE,default=America/Bogota"`

	MaxAttempts       int           `env:"MAX_ATTEMPTS,default=3"`
	BatchSize         int           `env:"BATCH_SIZE,default=10"`
	BatchWait         time.Duration `env:"BATCH_WAIT,default=1s"`
	RetryDelay        time.Duration `env:"RETRY_DELAY,default=15m"`
	RateLimitPerSec   int           `env:"RATE_LIMIT_PER_SEC,default=14"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=4"`

	// RateLimitPerDomainPerSec caps sends per recipient domain; 0 disables it.
	RateLimitPerDomainPerSec int `env:"RATE_LIMIT_PER_DOMAIN_PER_SEC,default=0"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`

	APIPort         int           `env:"API_PORT,default=8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Location resolves TEMPLATE_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(c.TemplateTimezone))
	if err != nil {
		return nil, fmt.Errorf("invalid TEMPLATE_TIMEZONE %q: %w", c.TemplateTimezone, err)
	}
	return loc, nil
}

func (c *Config) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	if c.BatchWait <= 0 {
		return fmt.Errorf("BATCH_WAIT must be positive, got %s", c.BatchWait)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY must not be negative, got %s", c.RetryDelay)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must not be negative, got %d", c.RateLimitPerSec)
	}
	if c.RateLimitPerDomainPerSec < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_DOMAIN_PER_SEC must not be negative, got %d", c.RateLimitPerDomainPerSec)
	}
	return nil
}
