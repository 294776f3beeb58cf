package bootstrap

import (
	"context"
	"sync"

	chclient "gateway/internal/adapters/clickhouse"
	"gateway/internal/adapters/config"
	"gateway/internal/adapters/errors/noop"
	"gateway/internal/adapters/errors/sentry"
	"gateway/internal/adapters/kafka"
	pgclient "gateway/internal/adapters/postgres"
	"gateway/internal/adapters/ratelimit"
	redisclient "gateway/internal/adapters/redis"
	"gateway/internal/api"
	"gateway/internal/api/health"
	"gateway/internal/consumers"
	"gateway/internal/metrics"
	chrepo "gateway/internal/repository/clickhouse"
	pgrepo "gateway/internal/repository/postgres"
	"gateway/internal/services/pricing"
	"gateway/internal/services/tracking"
	"gateway/internal/workers"
	"gateway/pkg/errors"
	"gateway/pkg/logger"
	"gateway/pkg/reconnect"
)

// NewContainer connects every dependency and wires the services.
// On error, whatever was already opened is closed.
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *Container, err error) {
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Container{
		Config:    cfg,
		Log:       log,
		Lifecycle: NewLifecycle(cfg.App.ShutdownTimeout),
		WG:        &sync.WaitGroup{},
		Context:   runCtx,
		Cancel:    cancel,
	}
	defer func() {
		if err != nil {
			cancel()
			c.Lifecycle.closeStores(c)
		}
	}()

	c.ErrorTracker = provideErrorTracker(cfg, log)
	logger.SetErrorTracker(c.ErrorTracker)

	metrics.Init()

	if err = c.provideStores(ctx); err != nil {
		return nil, err
	}
	if c.Pricing, err = providePricing(cfg.Pricing, log); err != nil {
		return nil, err
	}

	c.Engine = tracking.NewEngine(c.Usage, log)
	c.Query = tracking.NewQueryService(c.Usage, log)
	metrics.RegisterAggregateCollector(metrics.NewAggregateCollector(c.Usage, log))

	c.provideIngest()
	c.provideWorkers()
	c.provideHTTP()
	return c, nil
}

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(sentry.Options{
		DSN:         cfg.ErrorTracking.SentryDSN,
		Environment: cfg.ErrorTracking.Environment,
		Release:     cfg.App.Version,
		SampleRate:  cfg.ErrorTracking.SampleRate,
	})
	if err != nil {
		log.Warnw("Failed to initialize Sentry, falling back to no-op", "error", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

func (c *Container) provideStores(ctx context.Context) error {
	cfg := c.Config

	pg, err := pgclient.NewClient(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	c.PG = pg

	if cfg.Postgres.AutoMigrate {
		applied, err := pgclient.Migrate(ctx, pg.DB())
		if err != nil {
			return err
		}
		c.Log.Infow("Postgres migrations applied", "count", applied)
	}
	c.Usage = pgrepo.NewUsageRepository(pg.DB())

	if cfg.Redis.Enabled() {
		rdb, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		c.Redis = rdb
	} else {
		c.Log.Warn("Redis not configured, duplicate deliveries will be counted twice")
	}

	if cfg.ClickHouse.Enabled {
		ch, err := chclient.NewClient(ctx, cfg.ClickHouse)
		if err != nil {
			return err
		}
		c.CH = ch

		c.Events = chrepo.NewUsageEventRepository(ch.Conn(), chrepo.UsageEventRepositoryConfig{
			MaxBatchSize: cfg.ClickHouse.BatchSize,
			MaxAge:       cfg.ClickHouse.FlushInterval,
		}, c.Log)
		if err := c.Events.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

func providePricing(cfg config.PricingConfig, log *logger.Logger) (*pricing.Catalog, error) {
	if cfg.ModelsFile == "" {
		log.Info("Pricing catalog disabled, events without costs are tracked at zero cost")
		return nil, nil
	}
	catalog, err := pricing.LoadFile(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}
	log.Infow("Pricing catalog loaded", "models", len(catalog.Models()), "file", cfg.ModelsFile)
	return catalog, nil
}

func (c *Container) provideIngest() {
	cfg := c.Config

	c.KafkaConsumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   cfg.Kafka.EventsTopic,
	}, c.Log)
	c.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, c.Log)

	deps := consumers.UsageConsumerDeps{
		Source:  c.KafkaConsumer,
		DLQ:     c.KafkaProducer,
		Tracker: c.Engine,
		Limiter: ratelimit.NewLimiter("ingest", cfg.Ingest.RatePerSecond, cfg.Ingest.Burst),
	}
	// typed nils must not reach the optional interfaces
	if c.Redis != nil {
		deps.Claims = redisclient.NewIdempotencyGuard(c.Redis)
	}
	if c.Events != nil {
		deps.Mirror = c.Events
	}
	if c.Pricing != nil {
		deps.Pricing = c.Pricing
	}

	c.UsageConsumer = consumers.NewUsageConsumer(consumers.UsageConsumerConfig{
		Workers:         cfg.Ingest.Workers,
		TrackTimeout:    cfg.Ingest.TrackTimeout,
		DedupTTL:        cfg.Ingest.DedupTTL,
		DefaultCurrency: cfg.Ingest.DefaultCurrency,
		DLQTopic:        cfg.Kafka.DLQTopic,
		FetchBackoff:    reconnect.Config{
			MinBackoff:    cfg.Ingest.FetchBackoffMin,
			MaxBackoff:    cfg.Ingest.FetchBackoffMax,
			JitterPercent: 0.2,
		},
	}, deps, c.Log)
}

func (c *Container) provideWorkers() {
	c.Scheduler = workers.NewScheduler(c.Log, c.Config.App.ShutdownTimeout/4)

	// an interface holding a nil *UsageEventRepository is not nil
	var buffer workers.BufferReporter
	if c.Events != nil {
		buffer = c.Events
	}
	c.Scheduler.RegisterWorker(workers.NewPipelineGaugeWorker(
		c.Config.Ingest.GaugeInterval,
		c.Config.Kafka.EventsTopic,
		c.KafkaConsumer,
		"usage_events",
		buffer,
	))
}

func (c *Container) provideHTTP() {
	cfg := c.Config

	h := health.New(c.Log, cfg.App.Name, cfg.App.Version).Require("postgres", c.PG)
	if c.Redis != nil {
		h.Optional("redis", c.Redis)
	}
	if c.CH != nil {
		h.Optional("clickhouse", c.CH)
	}

	c.HTTP = api.NewServer(api.ServerConfig{
		Port:         cfg.HTTP.Port,
		ServiceName:  cfg.App.Name,
		Version:      cfg.App.Version,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, h, c.Log)
}
