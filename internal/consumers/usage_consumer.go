package consumers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/segmentio/kafka-go"

	kafkaadapter "gateway/internal/adapters/kafka"
	redisadapter "gateway/internal/adapters/redis"
	"gateway/internal/domain/usage"
	"gateway/internal/metrics"
	"gateway/internal/services/pricing"
	"gateway/pkg/errors"
	"gateway/pkg/logger"
	"gateway/pkg/reconnect"
)

// MessageSource is a consumer group reader with explicit commits
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DeadLetterPublisher forwards unprocessable messages
type DeadLetterPublisher interface {
	PublishRaw(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// UsageTracker merges an event into the aggregates
type UsageTracker interface {
	TrackUsage(ctx context.Context, event usage.Event) error
}

// ClaimStore deduplicates event ids across redeliveries. A claim is held
// for a short in-flight TTL and completed only after the event committed.
type ClaimStore interface {
	Claim(ctx context.Context, id string, ttl time.Duration) (redisadapter.ClaimState, error)
	Complete(ctx context.Context, id string, ttl time.Duration) error
	Release(ctx context.Context, id string) error
}

// ErrEventInFlight means another delivery holds an unfinished claim on the
// event. The message is retried, never committed.
var ErrEventInFlight = errors.New("usage event in flight")

// EventMirror receives every tracked event
type EventMirror interface {
	Record(ctx context.Context, eventID string, event usage.Event) error
}

// CostCalculator prices events that arrive without costs
type CostCalculator interface {
	Calculate(modelID string, promptTokens, completionTokens int64) (pricing.Cost, error)
}

// Waiter throttles processing
type Waiter interface {
	Wait(ctx context.Context) error
}

const (
	statusOK        = "ok"
	statusDuplicate = "duplicate"
	statusDLQ       = "dlq"
)

// UsageConsumerConfig holds the pipeline settings
type UsageConsumerConfig struct {
	Workers         int
	TrackTimeout    time.Duration
	DedupTTL        time.Duration
	InFlightTTL     time.Duration // default: 2 * TrackTimeout
	DefaultCurrency string
	DLQTopic        string
	FetchBackoff    reconnect.Config
	RetryBackoff    reconnect.Config
}

// UsageConsumerDeps groups the collaborators. Claims, Mirror and Pricing are optional.
type UsageConsumerDeps struct {
	Source  MessageSource
	DLQ     DeadLetterPublisher
	Tracker UsageTracker
	Limiter Waiter
	Claims  ClaimStore
	Mirror  EventMirror
	Pricing CostCalculator
}

// UsageConsumer reads usage events from Kafka and merges them into the aggregate store.
// Messages of one partition always go to the same worker, so offsets are committed in order.
type UsageConsumer struct {
	cfg  UsageConsumerConfig
	deps UsageConsumerDeps
	log  *logger.Logger

	fetchBackoff *reconnect.Backoff

	tracked    atomic.Int64
	duplicates atomic.Int64
	dead       atomic.Int64
}

// NewUsageConsumer creates a new usage consumer
func NewUsageConsumer(cfg UsageConsumerConfig, deps UsageConsumerDeps, log *logger.Logger) *UsageConsumer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.TrackTimeout <= 0 {
		cfg.TrackTimeout = 5 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	if cfg.InFlightTTL <= 0 {
		cfg.InFlightTTL = 2 * cfg.TrackTimeout
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = usage.DefaultCurrency
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = kafkaadapter.TopicUsageDLQ
	}
	return &UsageConsumer{
		cfg:          cfg,
		deps:         deps,
		log:          log.With("component", "usage_consumer"),
		fetchBackoff: reconnect.New(cfg.FetchBackoff),
	}
}

// Run fetches messages until ctx is cancelled, then drains the workers
func (c *UsageConsumer) Run(ctx context.Context) error {
	c.log.Infow("Starting usage consumer",
		"workers", c.cfg.Workers,
		"dedup", c.deps.Claims != nil,
		"mirror", c.deps.Mirror != nil,
	)

	queues := make([]chan kafka.Message, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 1)
		wg.Add(1)
		go c.worker(ctx, queues[i], &wg)
	}

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		c.logStats()
	}()

	for {
		msg, err := c.deps.Source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Usage consumer stopping (context cancelled)")
				return nil
			}
			c.log.Warnw("Failed to fetch usage event",
				"consecutive_failures", c.fetchBackoff.Failures()+1,
				"error", err,
			)
			if c.fetchBackoff.Wait(ctx) != nil {
				return nil
			}
			continue
		}
		if failures := c.fetchBackoff.RecordSuccess(); failures > 0 {
			c.log.Infow("Usage event fetch recovered", "previous_failures", failures)
		}

		q := queues[int(msg.Partition)%len(queues)]
		select {
		case q <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *UsageConsumer) worker(ctx context.Context, in <-chan kafka.Message, wg *sync.WaitGroup) {
	defer wg.Done()
	for msg := range in {
		if err := c.handleWithRetry(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Errorw("Failed to handle usage event",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handleWithRetry retries a message whose event is claimed by another
// delivery until that claim completes or expires. A later commit on the
// partition would skip it otherwise.
func (c *UsageConsumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	var backoff *reconnect.Backoff
	for {
		err := c.Handle(ctx, msg)
		if !errors.Is(err, ErrEventInFlight) {
			return err
		}
		if backoff == nil {
			backoff = reconnect.New(c.cfg.RetryBackoff)
		}
		c.log.Debugw("Usage event claimed by another delivery, retrying",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", backoff.Failures()+1,
		)
		if waitErr := backoff.Wait(ctx); waitErr != nil {
			return err
		}
	}
}

// Handle processes one message and commits it. An error means the message
// was left uncommitted and will be redelivered.
func (c *UsageConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	status, err := c.process(ctx, msg)
	if err != nil {
		metrics.KafkaMessages.WithLabelValues(msg.Topic, "error").Inc()
		return err
	}
	metrics.KafkaMessages.WithLabelValues(msg.Topic, status).Inc()

	// the work is done, so the commit must survive shutdown
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return c.deps.Source.CommitMessages(commitCtx, msg)
}

func (c *UsageConsumer) process(ctx context.Context, msg kafka.Message) (string, error) {
	var m UsageEventMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		metrics.RecordFailure("decode")
		return c.deadLetter(ctx, msg, "decode", errors.Wrap(err, "decode usage event"))
	}

	eventID := m.EventID
	if eventID == "" {
		eventID = messageEventID(msg)
	}
	if m.SessionID == "" {
		m.SessionID = anonymousSessionID(eventID)
	}

	event, err := c.price(m)
	if err != nil {
		metrics.RecordFailure("pricing")
		return c.deadLetter(ctx, msg, "pricing", err)
	}
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
	if event.Currency == "" {
		event.Currency = c.cfg.DefaultCurrency
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = msg.Time
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	event.OccurredAt = event.OccurredAt.UTC()
	event.InputCost = usage.RoundCost(event.InputCost)
	event.OutputCost = usage.RoundCost(event.OutputCost)
	event.TotalCost = usage.RoundCost(event.TotalCost)

	if err := c.deps.Limiter.Wait(ctx); err != nil {
		metrics.RecordFailure("rate_limit")
		return "", err
	}

	claim := c.claim(ctx, eventID)
	switch claim {
	case claimDuplicate:
		metrics.UsageEventsDuplicate.Inc()
		c.duplicates.Add(1)
		c.log.Debugw("Skipping duplicate usage event", "event_id", eventID)
		return statusDuplicate, nil
	case claimBusy:
		return "", errors.Wrapf(ErrEventInFlight, "event %s", eventID)
	}

	trackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.TrackTimeout)
	err = c.deps.Tracker.TrackUsage(trackCtx, event)
	cancel()
	if err != nil {
		reason := "storage"
		if errors.Is(err, errors.ErrInvalidInput) {
			reason = "validation"
		}
		metrics.RecordFailure(reason)
		if claim == claimHeld {
			c.release(ctx, eventID)
		}
		return c.deadLetter(ctx, msg, reason, err)
	}

	c.tracked.Add(1)
	if claim == claimHeld {
		c.complete(ctx, eventID)
	}
	if event.Currency != c.cfg.DefaultCurrency {
		metrics.CurrencyMismatch.WithLabelValues(event.Currency).Inc()
	}

	if c.deps.Mirror != nil {
		if err := c.deps.Mirror.Record(ctx, eventID, event); err != nil {
			c.log.Warnw("Failed to mirror usage event", "event_id", eventID, "error", err)
		}
	}
	return statusOK, nil
}

// price fills costs from the catalog when the message carries none
func (c *UsageConsumer) price(m UsageEventMessage) (usage.Event, error) {
	event := m.event()
	if m.hasCosts() || c.deps.Pricing == nil {
		return event, nil
	}

	cost, err := c.deps.Pricing.Calculate(m.ModelID, m.PromptTokens, m.CompletionTokens)
	if err != nil {
		return usage.Event{}, err
	}
	event.InputCost = cost.Input
	event.OutputCost = cost.Output
	event.TotalCost = cost.Total
	event.Currency = cost.Currency
	return event, nil
}

type claimResult int

const (
	claimSkipped claimResult = iota // no claim store, or it failed
	claimHeld
	claimBusy // held by another delivery
	claimDuplicate
)

// claim takes the event id. A failing claim store does not stop ingestion:
// the event is tracked unguarded and the failure is counted.
func (c *UsageConsumer) claim(ctx context.Context, eventID string) claimResult {
	if c.deps.Claims == nil {
		return claimSkipped
	}
	state, err := c.deps.Claims.Claim(ctx, eventID, c.cfg.InFlightTTL)
	if err != nil {
		metrics.RecordFailure("dedup")
		c.log.Warnw("Idempotency claim failed, tracking without guard", "event_id", eventID, "error", err)
		return claimSkipped
	}
	switch state {
	case redisadapter.ClaimDone:
		return claimDuplicate
	case redisadapter.ClaimInFlight:
		return claimBusy
	default:
		return claimHeld
	}
}

// complete promotes a held claim to done. If that fails the in-flight claim
// expires and a redelivery may count the event again.
func (c *UsageConsumer) complete(ctx context.Context, eventID string) {
	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.deps.Claims.Complete(completeCtx, eventID, c.cfg.DedupTTL); err != nil {
		metrics.RecordFailure("dedup")
		c.log.Warnw("Failed to complete idempotency claim", "event_id", eventID, "error", err)
	}
}

func (c *UsageConsumer) release(ctx context.Context, eventID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.deps.Claims.Release(releaseCtx, eventID); err != nil {
		c.log.Warnw("Failed to release idempotency claim", "event_id", eventID, "error", err)
	}
}

// deadLetter forwards the original message with the failure reason. If the
// dead letter topic is unreachable the message stays uncommitted.
func (c *UsageConsumer) deadLetter(ctx context.Context, msg kafka.Message, reason string, cause error) (string, error) {
	c.log.Warnw("Dead-lettering usage event",
		"reason", reason,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", cause,
	)

	dlq := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: kafkaadapter.HeaderDLQReason, Value: []byte(reason + ": " + cause.Error())},
			kafka.Header{Key: kafkaadapter.HeaderOriginalTopic, Value: []byte(msg.Topic)},
			kafka.Header{Key: kafkaadapter.HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		),
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.deps.DLQ.PublishRaw(publishCtx, c.cfg.DLQTopic, dlq); err != nil {
		return "", errors.Wrapf(err, "dead-letter %s event", reason)
	}
	c.dead.Add(1)
	return statusDLQ, nil
}

// Stats is a snapshot of consumer counters
type Stats struct {
	Tracked      int64
	Duplicates   int64
	DeadLettered int64
}

// Stats returns counters since start
func (c *UsageConsumer) Stats() Stats {
	return Stats{
		Tracked:      c.tracked.Load(),
		Duplicates:   c.duplicates.Load(),
		DeadLettered: c.dead.Load(),
	}
}

func (c *UsageConsumer) logStats() {
	s := c.Stats()
	c.log.Infow("Usage consumer stopped",
		"tracked", humanize.Comma(s.Tracked),
		"duplicates", humanize.Comma(s.Duplicates),
		"dead_lettered", humanize.Comma(s.DeadLettered),
	)
}
