package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"gateway/internal/domain/usage"
	"gateway/internal/metrics"
	"gateway/pkg/clickhouse"
	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

const usageEventsTable = "usage_events"

const createUsageEventsTable = `
	CREATE TABLE IF NOT EXISTS usage_events (
		event_id          String,
		occurred_at       DateTime64(3, 'UTC'),
		received_at       DateTime64(3, 'UTC'),
		session_id        String,
		user_id           String,
		provider          LowCardinality(String),
		model_id          LowCardinality(String),
		prompt_tokens     Int64,
		completion_tokens Int64,
		total_tokens      Int64,
		input_cost        Decimal(20, 6),
		output_cost       Decimal(20, 6),
		total_cost        Decimal(20, 6),
		currency          LowCardinality(String)
	)
	ENGINE = ReplacingMergeTree(received_at)
	PARTITION BY toYYYYMM(occurred_at)
	ORDER BY (user_id, occurred_at, event_id)
`

const insertUsageEvents = `
	INSERT INTO usage_events (
		event_id, occurred_at, received_at,
		session_id, user_id, provider, model_id,
		prompt_tokens, completion_tokens, total_tokens,
		input_cost, output_cost, total_cost, currency
	)
`

// EventRecord is one raw usage event as mirrored to ClickHouse
type EventRecord struct {
	EventID    string
	Event      usage.Event
	ReceivedAt time.Time
}

func (r EventRecord) values() []interface{} {
	e := r.Event
	return []interface{}{
		r.EventID, e.OccurredAt.UTC(), r.ReceivedAt.UTC(),
		e.SessionID, e.UserID, e.Provider, e.ModelID,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens(),
		e.InputCost, e.OutputCost, e.TotalCost, e.Currency,
	}
}

// UsageEventRepository appends raw usage events to ClickHouse through a batch writer.
// The aggregates in Postgres stay the source of truth; this table is for ad-hoc analytics.
type UsageEventRepository struct {
	conn        driver.Conn
	batchWriter *clickhouse.BatchWriter[EventRecord]
	now         func() time.Time
}

// UsageEventRepositoryConfig controls batching
type UsageEventRepositoryConfig struct {
	MaxBatchSize int
	MaxAge       time.Duration
}

// NewUsageEventRepository creates a repository writing through conn
func NewUsageEventRepository(conn driver.Conn, cfg UsageEventRepositoryConfig, log *logger.Logger) *UsageEventRepository {
	repo := &UsageEventRepository{conn: conn, now: time.Now}
	repo.batchWriter = newEventWriter(repo.flushBatch, cfg, log)
	return repo
}

func newEventWriter(flush clickhouse.FlushFunc[EventRecord], cfg UsageEventRepositoryConfig, log *logger.Logger) *clickhouse.BatchWriter[EventRecord] {
	return clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[EventRecord]{
		FlushFunc:    flush,
		TableName:    usageEventsTable,
		MaxBatchSize: cfg.MaxBatchSize,
		MaxAge:       cfg.MaxAge,
		Logger:       log,
		OnFlush: func(rows int, err error) {
			metrics.RecordBatchFlush(usageEventsTable, rows, err)
		},
	})
}

// EnsureSchema creates the usage_events table when missing
func (r *UsageEventRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, createUsageEventsTable); err != nil {
		return errors.Wrap(err, "create usage_events")
	}
	return nil
}

// Start begins the background flush loop
func (r *UsageEventRepository) Start(ctx context.Context) {
	r.batchWriter.Start(ctx)
}

// Stop flushes what is buffered and stops the flush loop
func (r *UsageEventRepository) Stop(ctx context.Context) error {
	return r.batchWriter.Stop(ctx)
}

// BufferSize is the number of events waiting for the next flush
func (r *UsageEventRepository) BufferSize() int {
	return r.batchWriter.BufferSize()
}

// Record buffers an event for the next batch
func (r *UsageEventRepository) Record(ctx context.Context, eventID string, event usage.Event) error {
	return r.batchWriter.Add(ctx, EventRecord{EventID: eventID, Event: event, ReceivedAt: r.now()})
}

// flushBatch sends one native batch INSERT. Rows are appended in memory and
// the network call happens on Send.
func (r *UsageEventRepository) flushBatch(ctx context.Context, batch []EventRecord) error {
	if len(batch) == 0 {
		return nil
	}

	stmt, err := r.conn.PrepareBatch(ctx, insertUsageEvents)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for _, rec := range batch {
		if err := stmt.Append(rec.values()...); err != nil {
			return errors.Wrapf(err, "failed to append event %s", rec.EventID)
		}
	}

	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}
	return nil
}

// CostByModel sums mirrored cost per model for one user over [from, to)
func (r *UsageEventRepository) CostByModel(ctx context.Context, userID string, from, to time.Time) (map[string]float64, error) {
	query := `
		SELECT model_id, toFloat64(sum(total_cost)) AS total_cost
		FROM usage_events FINAL
		WHERE user_id = ? AND occurred_at >= ? AND occurred_at < ?
		GROUP BY model_id
		ORDER BY total_cost DESC
	`

	rows, err := r.conn.Query(ctx, query, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query model costs")
	}
	defer rows.Close()

	costs := make(map[string]float64)
	for rows.Next() {
		var modelID string
		var cost float64
		if err := rows.Scan(&modelID, &cost); err != nil {
			return nil, errors.Wrap(err, "failed to scan model cost")
		}
		costs[modelID] = cost
	}
	return costs, rows.Err()
}
