package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// Aggregator selection happens once at startup; workers receive the
	// constructed adapter, never the raw config.
	AggregatorVendor  string        `env:"AGGREGATOR_VENDOR,default=gupshup"`
	GupshupAPIKey     string        `env:"GUPSHUP_API_KEY"`
	GupshupAppName    string        `env:"GUPSHUP_APP_NAME"`
	GupshupBaseURL    string        `env:"GUPSHUP_BASE_URL"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	AggregatorTimeout time.Duration `env:"AGGREGATOR_TIMEOUT,default=30s"`

	TenantRatePerSec    int `env:"TENANT_RATE_PER_SEC,default=100"`
	DispatchConcurrency int `env:"DISPATCH_CONCURRENCY,default=16"`
	WebhookConcurrency  int `env:"WEBHOOK_CONCURRENCY,default=8"`
	FallbackConcurrency int `env:"FALLBACK_CONCURRENCY,default=4"`
	OrchestratorBatch   int `env:"ORCHESTRATOR_BATCH,default=100"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
