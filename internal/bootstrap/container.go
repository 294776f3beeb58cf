package bootstrap

import (
	"context"
	"sync"

	chclient "gateway/internal/adapters/clickhouse"
	"gateway/internal/adapters/config"
	"gateway/internal/adapters/kafka"
	pgclient "gateway/internal/adapters/postgres"
	redisclient "gateway/internal/adapters/redis"
	"gateway/internal/api"
	"gateway/internal/consumers"
	chrepo "gateway/internal/repository/clickhouse"
	pgrepo "gateway/internal/repository/postgres"
	"gateway/internal/services/pricing"
	"gateway/internal/services/tracking"
	"gateway/internal/workers"
	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

// Container holds all application dependencies in initialization order.
// Optional components (CH, Redis, Events, Pricing) are nil when disabled.
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	// Storage
	Usage  *pgrepo.UsageRepository
	Events *chrepo.UsageEventRepository

	// Services
	Pricing *pricing.Catalog
	Engine  *tracking.Engine
	Query   *tracking.QueryService

	// Ingest
	KafkaConsumer *kafka.Consumer
	KafkaProducer *kafka.Producer
	UsageConsumer *consumers.UsageConsumer
	Scheduler     *workers.Scheduler

	HTTP *api.Server

	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Start launches the long-running components
func (c *Container) Start() {
	if c.Events != nil {
		c.Events.Start(c.Context)
	}
	if err := c.Scheduler.Start(c.Context); err != nil {
		c.Log.Errorw("Worker scheduler failed to start", "error", err)
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.UsageConsumer.Run(c.Context); err != nil {
			c.Log.Errorw("Usage consumer exited", "error", err)
		}
	}()

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.HTTP.Start(); err != nil {
			c.Log.Errorw("HTTP server exited", "error", err)
			c.Cancel()
		}
	}()

	c.Log.Info("All components started")
}

// Shutdown stops everything in reverse dependency order
func (c *Container) Shutdown() {
	c.Cancel()
	c.Lifecycle.Shutdown(c)
}
