// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/mcclellann/emiLoan/pkg/amortization"
)

// Config holds runtime configuration for the service.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development" validate:"oneof=development production test"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080" validate:"required"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"console" validate:"oneof=json console"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite3" validate:"oneof=sqlite3 postgres"`
	DBDSN    string `envconfig:"DB_DSN" default:"./loans.db" validate:"required"`

	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	SMTPHost string `envconfig:"SMTP_HOST"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"587" validate:"min=1,max=65535"`
	SMTPUser string `envconfig:"SMTP_USER"`
	SMTPPass string `envconfig:"SMTP_PASS"`
	SMTPFrom string `envconfig:"SMTP_FROM"`

	BrandName        string `envconfig:"BRAND_NAME" default:"emiLoan"`
	OverdueSweepSpec string `envconfig:"OVERDUE_SWEEP_SPEC" default:"@daily" validate:"required"`

	DecimalPrecision   int32 `envconfig:"DECIMAL_PRECISION" default:"34"`
	RateLimitPerMinute int   `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120" validate:"min=0"`
}

// Load reads an optional .env file and then the environment. Variables already
// set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DecimalPrecision < amortization.MinPrecision {
		return nil, fmt.Errorf("config: DECIMAL_PRECISION must be at least %d, got %d", amortization.MinPrecision, cfg.DecimalPrecision)
	}
	return &cfg, nil
}

// IsProduction returns true when the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// UseRedisLocks reports whether per-loan locks are shared through Redis.
func (c *Config) UseRedisLocks() bool {
	return c.RedisAddr != ""
}

// UseSMTP reports whether notices are mailed rather than logged.
func (c *Config) UseSMTP() bool {
	return c.SMTPHost != ""
}

// MathContext returns the decimal context for schedule arithmetic.
func (c *Config) MathContext() amortization.MathContext {
	return amortization.MathContext{Precision: c.DecimalPrecision}
}
