package tracking

import (
	"context"
	"time"

	"gateway/internal/domain/usage"
	"gateway/internal/metrics"
	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

// TxRunner opens all-or-nothing units of work over the aggregate store
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(w usage.AggregateWriter) error) error
}

// Engine merges usage events into the session, daily and monthly aggregates.
// It keeps no state of its own and is safe for concurrent use.
type Engine struct {
	store TxRunner
	log   *logger.Logger
	now   func() time.Time
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithClock overrides the submission-time clock used for events without a timestamp
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a new aggregation engine
func NewEngine(store TxRunner, log *logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store: store,
		log:   log.With("component", "usage_engine"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TrackUsage merges one event into all three aggregates in a single transaction.
// It returns a ValidationError for malformed events and a StorageError when the
// transaction fails; in both cases nothing is persisted. It never retries.
func (e *Engine) TrackUsage(ctx context.Context, event usage.Event) error {
	event.Normalize(e.now())
	if err := event.Validate(); err != nil {
		return err
	}

	start := time.Now()
	err := e.store.WithinTx(ctx, func(w usage.AggregateWriter) error {
		if err := w.UpsertSession(ctx, event); err != nil {
			return err
		}
		if err := w.UpsertDaily(ctx, event); err != nil {
			return err
		}
		return w.UpsertMonthly(ctx, event)
	})
	if err != nil && !errors.Is(err, errors.ErrStorage) {
		err = errors.NewStorageError("track usage", err)
	}

	cost, _ := event.TotalCost.Float64()
	metrics.RecordTrack(event.Provider, event.ModelID, event.Currency,
		event.PromptTokens, event.CompletionTokens, cost, time.Since(start), err)

	if err != nil {
		e.log.Warnw("Failed to track usage",
			"session_id", event.SessionID,
			"user_id", event.UserID,
			"model", event.ModelID,
			"error", err,
		)
		return err
	}

	e.log.Debugw("Usage tracked",
		"session_id", event.SessionID,
		"user_id", event.UserID,
		"provider", event.Provider,
		"model", event.ModelID,
		"usage_date", event.UsageDate().Format(usage.DateLayout),
		"total_tokens", event.TotalTokens(),
		"total_cost", event.TotalCost.String(),
	)
	return nil
}
