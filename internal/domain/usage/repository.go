package usage

import "context"

// AggregateWriter merges one event into each view. Every method must be a single
// store-level insert-or-accumulate so concurrent writers to the same key never lose updates.
type AggregateWriter interface {
	UpsertSession(ctx context.Context, e Event) error
	UpsertDaily(ctx context.Context, e Event) error
	UpsertMonthly(ctx context.Context, e Event) error
}

// AggregateReader reads committed aggregate rows. Orderings are part of the contract:
//   - ListSession: created_at ASC
//   - ListDaily: date DESC, user_id, model_id, provider
//   - ListMonthly: year_month DESC, provider, model_id
//   - ListUserSessions: usage_date DESC, session_id, model_id, provider
type AggregateReader interface {
	ListSession(ctx context.Context, sessionID string) ([]SessionAggregate, error)
	ListDaily(ctx context.Context, filter DailyFilter) ([]DailyAggregate, error)
	ListMonthly(ctx context.Context, filter MonthlyFilter) ([]MonthlyAggregate, error)
	ListUserSessions(ctx context.Context, filter SessionFilter) ([]SessionAggregate, error)
}

// Repository is the aggregate store. WithinTx commits only when fn returns nil; any
// error or context cancellation rolls back every write made through the writer.
// WithinSnapshot runs fn against one consistent read view.
type Repository interface {
	AggregateReader
	WithinTx(ctx context.Context, fn func(w AggregateWriter) error) error
	WithinSnapshot(ctx context.Context, fn func(r AggregateReader) error) error
}
