package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"gateway/internal/adapters/config"
	"gateway/internal/adapters/kafka"
	"gateway/internal/consumers"
	"gateway/internal/services/pricing"
	"gateway/pkg/logger"
)

// seeder publishes synthetic usage events so a local stack has data to aggregate
func main() {
	events := flag.Int("events", 1000, "Number of usage events to publish")
	users := flag.Int("users", 20, "Number of distinct users")
	days := flag.Int("days", 30, "Spread events over the last N days")
	anonymous := flag.Float64("anonymous", 0.1, "Share of events without a user")
	dryRun := flag.Bool("dry-run", false, "Build events without publishing")
	flag.Parse()

	if *users < 1 || *days < 1 {
		panic("users and days must be positive")
	}

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get().With("component", "seeder")

	catalog, err := pricing.LoadFile(cfg.Pricing.ModelsFile)
	if err != nil {
		log.Fatalf("Failed to load pricing catalog: %v", err)
	}
	models := catalog.Models()
	if len(models) == 0 {
		log.Fatalf("Pricing catalog %s has no models", cfg.Pricing.ModelsFile)
	}

	log.Infow("Seeding usage events",
		"events", *events,
		"users", *users,
		"models", len(models),
		"topic", cfg.Kafka.EventsTopic,
		"dry_run", *dryRun,
	)

	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, log)
	defer func() { _ = producer.Close() }()

	ctx := context.Background()
	now := time.Now().UTC()
	sessions := make(map[string]string, *users)
	started := time.Now()

	for i := 0; i < *events; i++ {
		model := models[rand.IntN(len(models))]

		userID := fmt.Sprintf("seed-user-%03d", rand.IntN(*users))
		if rand.Float64() < *anonymous {
			userID = ""
		}
		session, ok := sessions[userID]
		if !ok || rand.IntN(10) == 0 {
			session = "seed-session-" + uuid.NewString()
			sessions[userID] = session
		}

		msg := consumers.UsageEventMessage{
			EventID:          uuid.NewString(),
			SessionID:        session,
			UserID:           userID,
			Provider:         model.Provider,
			ModelID:          model.ID,
			PromptTokens:     int64(50 + rand.IntN(4000)),
			CompletionTokens: int64(10 + rand.IntN(int(min(model.MaxOutputTokens, 2000)))),
			OccurredAt:       now.Add(-time.Duration(rand.Int64N(int64(*days) * int64(24*time.Hour)))),
		}
		if userID == "" {
			msg.SessionID = ""
		}

		if *dryRun {
			continue
		}
		if err := producer.Publish(ctx, cfg.Kafka.EventsTopic, msg.EventID, msg); err != nil {
			log.Fatalf("Failed to publish event %d: %v", i, err)
		}
	}

	log.Infow("Seeding complete",
		"events", humanize.Comma(int64(*events)),
		"took", time.Since(started).Round(time.Millisecond),
	)
}
