// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the worker and tooling binaries.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL     string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns      int32         `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns      int32         `envconfig:"DB_MIN_CONNS" default:"5"`
	DBConnLifetime  time.Duration `envconfig:"DB_CONN_LIFETIME" default:"1h"`
	DBStmtTimeout   time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"30s"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	StockCacheTTL   time.Duration `envconfig:"STOCK_CACHE_TTL" default:"5m"`
	AlertChannel    string        `envconfig:"ALERT_CHANNEL" default:"stock:alerts"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	OutboxPoll      time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"500ms"`
	OutboxBatchSize int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`

	FIFOTxTimeout      time.Duration `envconfig:"FIFO_TX_TIMEOUT" default:"10s"`
	InventoryCooldown  time.Duration `envconfig:"INVENTORY_COOLDOWN" default:"4h"`
	SuspiciousLookback time.Duration `envconfig:"SUSPICIOUS_LOOKBACK" default:"720h"`
	DeclarationExpiry  time.Duration `envconfig:"DECLARATION_EXPIRY" default:"168h"`
	CronBlockExpired   string        `envconfig:"CRON_BLOCK_EXPIRED" default:"5 0 * * *"`
	CronAlertExpiring  string        `envconfig:"CRON_ALERT_EXPIRING" default:"0 8 * * *"`
	CronExpireDeclared string        `envconfig:"CRON_EXPIRE_DECLARATIONS" default:"30 0 * * *"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"5"`
	IdempotencyCleanup time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL" default:"1h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be provided")
	}
	if cfg.FIFOTxTimeout <= 0 {
		return nil, errors.New("FIFO_TX_TIMEOUT must be positive")
	}
	if cfg.OutboxBatchSize <= 0 {
		return nil, errors.New("OUTBOX_BATCH_SIZE must be positive")
	}
	return &cfg, nil
}

// IsProduction returns true when running in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
