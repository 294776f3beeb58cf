package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway/internal/adapters/config"
	"gateway/internal/bootstrap"
	"gateway/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With("service", cfg.App.Name)
	log.Infow("Starting usage gateway",
		"env", cfg.App.Env,
		"version", cfg.App.Version,
		"workers", cfg.Ingest.Workers,
	)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	container, err := bootstrap.NewContainer(initCtx, cfg, log)
	cancel()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	container.Start()
	waitForShutdown(container)
}

// waitForShutdown blocks until SIGINT/SIGTERM or a fatal component error
func waitForShutdown(c *bootstrap.Container) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.Log.Infow("Shutdown signal received", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("Run context cancelled, shutting down")
	}

	c.Shutdown()
}
