package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"gateway/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	HTTP          HTTPConfig
	Ingest        IngestConfig
	Pricing       PricingConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name            string        `envconfig:"APP_NAME" default:"usage-gateway"`
	Env             string        `envconfig:"APP_ENV" default:"development"`
	Version         string        `envconfig:"APP_VERSION" default:"dev"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	Debug           bool          `envconfig:"DEBUG" default:"false"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

type PostgresConfig struct {
	Host            string        `envconfig:"POSTGRES_HOST" required:"true"`
	Port            int           `envconfig:"POSTGRES_PORT" default:"5432"`
	User            string        `envconfig:"POSTGRES_USER" required:"true"`
	Password        string        `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database        string        `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode         string        `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns        int           `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"5m"`
	AutoMigrate     bool          `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ClickHouseConfig controls the optional raw event mirror
type ClickHouseConfig struct {
	Enabled       bool          `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host          string        `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port          int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User          string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"CLICKHOUSE_PASSWORD"`
	Database      string        `envconfig:"CLICKHOUSE_DB" default:"gateway"`
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
}

func (c ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig backs the ingest idempotency guard. An empty host disables it.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers     []string `envconfig:"KAFKA_BROKERS" required:"true"`
	GroupID     string   `envconfig:"KAFKA_GROUP_ID" default:"usage-gateway"`
	EventsTopic string   `envconfig:"KAFKA_USAGE_TOPIC" default:"usage.events"`
	DLQTopic    string   `envconfig:"KAFKA_USAGE_DLQ_TOPIC" default:"usage.events.dlq"`
}

type HTTPConfig struct {
	Port         int           `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
}

// IngestConfig tunes the Kafka to aggregate store pipeline
type IngestConfig struct {
	Workers         int           `envconfig:"INGEST_WORKERS" default:"4"`
	RatePerSecond   float64       `envconfig:"INGEST_RATE_PER_SECOND" default:"500"`
	Burst           int           `envconfig:"INGEST_BURST" default:"50"`
	TrackTimeout    time.Duration `envconfig:"INGEST_TRACK_TIMEOUT" default:"5s"`
	DedupTTL        time.Duration `envconfig:"INGEST_DEDUP_TTL" default:"24h"`
	DefaultCurrency string        `envconfig:"INGEST_DEFAULT_CURRENCY" default:"USD"`
	FetchBackoffMin time.Duration `envconfig:"INGEST_FETCH_BACKOFF_MIN" default:"500ms"`
	FetchBackoffMax time.Duration `envconfig:"INGEST_FETCH_BACKOFF_MAX" default:"30s"`
	GaugeInterval   time.Duration `envconfig:"INGEST_GAUGE_INTERVAL" default:"15s"`
}

// PricingConfig points at the per-model price list. An empty path disables cost filling.
type PricingConfig struct {
	ModelsFile string `envconfig:"PRICING_MODELS_FILE" default:"data/models_config.json"`
}

type ErrorTrackingConfig struct {
	Enabled     bool    `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string  `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string  `envconfig:"SENTRY_DSN"`
	Environment string  `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
	SampleRate  float64 `envconfig:"SENTRY_SAMPLE_RATE" default:"1.0"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express with tags
func (c *Config) Validate() error {
	if c.Ingest.Workers < 1 {
		return errors.NewValidationError("INGEST_WORKERS", "must be at least 1", c.Ingest.Workers)
	}
	if c.Ingest.RatePerSecond <= 0 {
		return errors.NewValidationError("INGEST_RATE_PER_SECOND", "must be positive", c.Ingest.RatePerSecond)
	}
	if c.Ingest.Burst < 1 {
		return errors.NewValidationError("INGEST_BURST", "must be at least 1", c.Ingest.Burst)
	}
	if len(strings.TrimSpace(c.Ingest.DefaultCurrency)) != 3 {
		return errors.NewValidationError("INGEST_DEFAULT_CURRENCY", "must be a 3-letter code", c.Ingest.DefaultCurrency)
	}
	if c.Ingest.GaugeInterval <= 0 {
		return errors.NewValidationError("INGEST_GAUGE_INTERVAL", "must be positive", c.Ingest.GaugeInterval)
	}
	if c.ClickHouse.Enabled && c.ClickHouse.BatchSize < 1 {
		return errors.NewValidationError("CLICKHOUSE_BATCH_SIZE", "must be at least 1", c.ClickHouse.BatchSize)
	}
	if c.ErrorTracking.Enabled && c.ErrorTracking.Provider == "sentry" && c.ErrorTracking.SentryDSN == "" {
		return errors.NewValidationError("SENTRY_DSN", "required when error tracking is enabled", "")
	}
	return nil
}
