package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/practicecore/libs/config"
	otelx "github.com/md-rashed-zaman/practicecore/libs/otel"
)

const (
	storagePostgres = "postgres"
	storageMemory   = "memory"
)

type Config struct {
	Service  string      `envconfig:"SERVICE_NAME" default:"practice-service"`
	Port     config.Port `envconfig:"PORT" default:"8080"`
	GRPCPort config.Port `envconfig:"GRPC_PORT" default:"9090"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`

	// Storage is postgres, or memory for local runs without a database.
	Storage        string        `envconfig:"STORAGE" default:"postgres"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	DBMaxConns     int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBSlowQuery    time.Duration `envconfig:"DB_SLOW_QUERY" default:"250ms"`
	MigrateOnStart bool          `envconfig:"MIGRATE_ON_START" default:"false"`
	DemoSeed       bool          `envconfig:"DEMO_SEED" default:"false"`

	KafkaBrokers      config.CSV    `envconfig:"KAFKA_BROKERS"`
	OutboxPollEvery   time.Duration `envconfig:"OUTBOX_POLL_EVERY" default:"2s"`
	OutboxBatchSize   int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	OutboxRetention   time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
	OutboxPruneCron   string        `envconfig:"OUTBOX_PRUNE_CRON" default:"@daily"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RateLimitPerMin   int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"600"`
	RateLimitFailOpen bool          `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	CORSOrigins       config.CSV    `envconfig:"CORS_ALLOWED_ORIGINS"`

	JWTSecret   string        `envconfig:"JWT_SECRET"`
	JWKSURL     string        `envconfig:"JWKS_URL"`
	JWTIssuer   string        `envconfig:"JWT_ISSUER"`
	JWTAudience string        `envconfig:"JWT_AUDIENCE"`
	JWTLeeway   time.Duration `envconfig:"JWT_LEEWAY" default:"30s"`

	StripeSecretKey        string        `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret    string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`

	WorkerPollEvery   time.Duration `envconfig:"RECONCILE_POLL_EVERY" default:"1s"`
	WorkerMaxAttempts int           `envconfig:"RECONCILE_MAX_ATTEMPTS" default:"5"`
	WorkerRetryBase   time.Duration `envconfig:"RECONCILE_RETRY_BASE" default:"5s"`
	WorkerRetryMax    time.Duration `envconfig:"RECONCILE_RETRY_MAX" default:"10m"`
	SweepCron         string        `envconfig:"RECONCILE_SWEEP_CRON" default:"@every 15m"`
	SweepBatchSize    int           `envconfig:"RECONCILE_SWEEP_BATCH_SIZE" default:"50"`
	SweepLockKey      int64         `envconfig:"RECONCILE_SWEEP_LOCK_KEY" default:"4242001"`

	// RewardBaseRate is points per currency unit before the tier multiplier.
	RewardBaseRate decimal.Decimal `envconfig:"REWARD_BASE_RATE" default:"1"`

	otelx.Config
}

func loadConfig(cmd *cobra.Command) (Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	var cfg Config
	if err := config.Load("", &cfg, envFile); err != nil {
		return Config{}, err
	}
	switch cfg.Storage {
	case storagePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("config: DATABASE_URL is required for postgres storage")
		}
	case storageMemory:
	default:
		return Config{}, fmt.Errorf("config: STORAGE must be %q or %q", storagePostgres, storageMemory)
	}
	if cfg.RewardBaseRate.IsNegative() {
		return Config{}, fmt.Errorf("config: REWARD_BASE_RATE must not be negative")
	}
	cfg.Config.ServiceName = cfg.Service
	cfg.Config.Version = Version
	return cfg, nil
}
