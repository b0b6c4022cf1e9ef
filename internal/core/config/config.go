package config

import (
	"time"

	"github.com/ReadySet1/destino-sf-sub005/internal/alert"
	redisclient "github.com/ReadySet1/destino-sf-sub005/internal/infra/redis"
	"github.com/ReadySet1/destino-sf-sub005/internal/infra/storage/postgres"
	"github.com/ReadySet1/destino-sf-sub005/internal/payment"
	"github.com/ReadySet1/destino-sf-sub005/internal/queue"
	"github.com/ReadySet1/destino-sf-sub005/internal/resilience"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig              `yaml:"server"`
	Logging  LoggingConfig             `yaml:"logging"`
	Database postgres.Config           `yaml:"database"`
	Redis    redisclient.Config        `yaml:"redis"`
	Queue    queue.Config              `yaml:"queue"`
	Webhook  WebhookConfig             `yaml:"webhook"`
	Payment  payment.Config            `yaml:"payment"`
	Breaker  resilience.BreakerConfig  `yaml:"breaker"`
	Executor resilience.ExecutorConfig `yaml:"executor"`
	Alert    alert.WatcherConfig       `yaml:"alert"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"`  // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json, text
}

// WebhookConfig holds webhook ingestion settings.
type WebhookConfig struct {
	DedupeTTL time.Duration `yaml:"dedupe_ttl"` // replay suppression window
	Kinds     []string      `yaml:"kinds"`      // accepted event kinds
}
