package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"gateway/internal/domain/usage"
	"gateway/pkg/errors"
)

// Accumulating upserts. The SET clause references the stored row (table.col) so the
// addition happens under the row lock taken by ON CONFLICT, never on a value read earlier.
// session_usage.created_at is the first event's occurred_at and is never updated.
const (
	upsertSessionUsage = `
INSERT INTO session_usage (
    session_id, user_id, usage_date, provider, model_id,
    prompt_tokens, completion_tokens, total_tokens,
    input_cost, output_cost, total_cost, currency, created_at
) VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT ON CONSTRAINT uq_session_user_date_model DO UPDATE SET
    provider          = EXCLUDED.provider,
    currency          = EXCLUDED.currency,
    prompt_tokens     = session_usage.prompt_tokens + EXCLUDED.prompt_tokens,
    completion_tokens = session_usage.completion_tokens + EXCLUDED.completion_tokens,
    total_tokens      = session_usage.total_tokens + EXCLUDED.total_tokens,
    input_cost        = session_usage.input_cost + EXCLUDED.input_cost,
    output_cost       = session_usage.output_cost + EXCLUDED.output_cost,
    total_cost        = session_usage.total_cost + EXCLUDED.total_cost`

	upsertDailyUsage = `
INSERT INTO daily_usage (
    date, user_id, provider, model_id,
    prompt_tokens, completion_tokens, total_tokens, total_cost, request_count
) VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, 1)
ON CONFLICT ON CONSTRAINT uq_daily_user_model DO UPDATE SET
    provider          = EXCLUDED.provider,
    prompt_tokens     = daily_usage.prompt_tokens + EXCLUDED.prompt_tokens,
    completion_tokens = daily_usage.completion_tokens + EXCLUDED.completion_tokens,
    total_tokens      = daily_usage.total_tokens + EXCLUDED.total_tokens,
    total_cost        = daily_usage.total_cost + EXCLUDED.total_cost,
    request_count     = daily_usage.request_count + 1,
    updated_at        = NOW()`

	upsertMonthlyUsage = `
INSERT INTO monthly_usage (
    year_month, user_id, provider, model_id,
    prompt_tokens, completion_tokens, total_tokens, total_cost, request_count
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
ON CONFLICT ON CONSTRAINT uq_monthly_user_model DO UPDATE SET
    provider          = EXCLUDED.provider,
    prompt_tokens     = monthly_usage.prompt_tokens + EXCLUDED.prompt_tokens,
    completion_tokens = monthly_usage.completion_tokens + EXCLUDED.completion_tokens,
    total_tokens      = monthly_usage.total_tokens + EXCLUDED.total_tokens,
    total_cost        = monthly_usage.total_cost + EXCLUDED.total_cost,
    request_count     = monthly_usage.request_count + 1,
    updated_at        = NOW()`
)

const (
	sessionColumns = `id, session_id, user_id, usage_date, provider, model_id,
    prompt_tokens, completion_tokens, total_tokens,
    input_cost, output_cost, total_cost, currency, created_at`

	dailyColumns = `id, date, user_id, provider, model_id,
    prompt_tokens, completion_tokens, total_tokens, total_cost, request_count, updated_at`

	monthlyColumns = `id, year_month, user_id, provider, model_id,
    prompt_tokens, completion_tokens, total_tokens, total_cost, request_count, updated_at`
)

// UsageRepository is the PostgreSQL aggregate store
type UsageRepository struct {
	db *sqlx.DB
	usageQueries
}

// NewUsageRepository creates a new usage aggregate repository
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db, usageQueries: usageQueries{db: db}}
}

// WithinTx runs fn inside one READ COMMITTED transaction. The deferred rollback
// covers fn errors, panics and cancelled contexts; after a successful commit it is a no-op.
func (r *UsageRepository) WithinTx(ctx context.Context, fn func(w usage.AggregateWriter) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.NewStorageError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&usageWriter{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("commit transaction", err)
	}
	return nil
}

// WithinSnapshot runs fn inside a read-only REPEATABLE READ transaction so several
// reads observe the same committed state.
func (r *UsageRepository) WithinSnapshot(ctx context.Context, fn func(rd usage.AggregateReader) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return errors.NewStorageError("begin snapshot", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&usageQueries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("end snapshot", err)
	}
	return nil
}

type usageWriter struct {
	db DBTX
}

func (w *usageWriter) UpsertSession(ctx context.Context, e usage.Event) error {
	_, err := w.db.ExecContext(ctx, upsertSessionUsage,
		e.SessionID, e.UserID, e.UsageDate().Format(usage.DateLayout), e.Provider, e.ModelID,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens(),
		e.InputCost, e.OutputCost, e.TotalCost, e.Currency, e.OccurredAt,
	)
	return errors.NewStorageError("upsert session_usage", err)
}

func (w *usageWriter) UpsertDaily(ctx context.Context, e usage.Event) error {
	_, err := w.db.ExecContext(ctx, upsertDailyUsage,
		e.UsageDate().Format(usage.DateLayout), e.UserID, e.Provider, e.ModelID,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens(), e.TotalCost,
	)
	return errors.NewStorageError("upsert daily_usage", err)
}

func (w *usageWriter) UpsertMonthly(ctx context.Context, e usage.Event) error {
	_, err := w.db.ExecContext(ctx, upsertMonthlyUsage,
		e.YearMonth(), e.UserID, e.Provider, e.ModelID,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens(), e.TotalCost,
	)
	return errors.NewStorageError("upsert monthly_usage", err)
}

// usageQueries implements the read side over either the pool or a snapshot transaction
type usageQueries struct {
	db DBTX
}

func (q *usageQueries) ListSession(ctx context.Context, sessionID string) ([]usage.SessionAggregate, error) {
	query := `SELECT ` + sessionColumns + ` FROM session_usage
WHERE session_id = $1
ORDER BY created_at ASC, id ASC`

	rows := make([]usage.SessionAggregate, 0)
	if err := q.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, errors.NewStorageError("select session_usage", err)
	}
	return normalizeSessionRows(rows), nil
}

func (q *usageQueries) ListDaily(ctx context.Context, f usage.DailyFilter) ([]usage.DailyAggregate, error) {
	var w where
	w.addDate("date >=", f.StartDate)
	w.addDate("date <=", f.EndDate)
	w.addString("provider =", f.Provider)
	w.addString("model_id =", f.ModelID)
	w.addString("user_id =", f.UserID)

	query := `SELECT ` + dailyColumns + ` FROM daily_usage` + w.clause() + `
ORDER BY date DESC, user_id ASC, model_id ASC, provider ASC`

	rows := make([]usage.DailyAggregate, 0)
	if err := q.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.NewStorageError("select daily_usage", err)
	}
	for i := range rows {
		rows[i].Date = usage.TruncateDay(rows[i].Date)
	}
	return rows, nil
}

func (q *usageQueries) ListMonthly(ctx context.Context, f usage.MonthlyFilter) ([]usage.MonthlyAggregate, error) {
	var w where
	w.addString("year_month =", f.YearMonth)
	w.addString("year_month >=", f.StartMonth)
	w.addString("year_month <=", f.EndMonth)
	w.addString("provider =", f.Provider)
	w.addString("model_id =", f.ModelID)
	w.addString("user_id =", f.UserID)

	query := `SELECT ` + monthlyColumns + ` FROM monthly_usage` + w.clause() + `
ORDER BY year_month DESC, provider ASC, model_id ASC`

	rows := make([]usage.MonthlyAggregate, 0)
	if err := q.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.NewStorageError("select monthly_usage", err)
	}
	return rows, nil
}

func (q *usageQueries) ListUserSessions(ctx context.Context, f usage.SessionFilter) ([]usage.SessionAggregate, error) {
	var w where
	w.addString("user_id =", f.UserID)
	w.addDate("usage_date >=", f.StartDate)
	w.addDate("usage_date <=", f.EndDate)
	w.addString("provider =", f.Provider)
	w.addString("model_id =", f.ModelID)

	query := `SELECT ` + sessionColumns + ` FROM session_usage` + w.clause() + `
ORDER BY usage_date DESC, session_id ASC, model_id ASC, provider ASC`

	rows := make([]usage.SessionAggregate, 0)
	if err := q.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.NewStorageError("select user session_usage", err)
	}
	return normalizeSessionRows(rows), nil
}

// CountRows returns the row count of each aggregate table (metrics collector)
func (r *UsageRepository) CountRows(ctx context.Context) (map[string]int64, error) {
	var counts struct {
		Session int64 `db:"session_usage"`
		Daily   int64 `db:"daily_usage"`
		Monthly int64 `db:"monthly_usage"`
	}
	query := `
SELECT
    (SELECT COUNT(*) FROM session_usage) AS session_usage,
    (SELECT COUNT(*) FROM daily_usage)   AS daily_usage,
    (SELECT COUNT(*) FROM monthly_usage) AS monthly_usage`
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, errors.NewStorageError("count aggregate rows", err)
	}
	return map[string]int64{
		"session_usage": counts.Session,
		"daily_usage":   counts.Daily,
		"monthly_usage": counts.Monthly,
	}, nil
}

func normalizeSessionRows(rows []usage.SessionAggregate) []usage.SessionAggregate {
	for i := range rows {
		rows[i].UsageDate = usage.TruncateDay(rows[i].UsageDate)
	}
	return rows
}

// where accumulates AND-ed predicates with positional arguments
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(predicate string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf("%s $%d", predicate, len(w.args)))
}

func (w *where) addString(predicate, value string) {
	if value != "" {
		w.add(predicate, value)
	}
}

func (w *where) addDate(predicate string, value *time.Time) {
	if value != nil {
		w.add(predicate, value.UTC().Format(usage.DateLayout))
	}
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "\nWHERE " + strings.Join(w.conds, " AND ")
}

var (
	_ usage.Repository      = (*UsageRepository)(nil)
	_ usage.AggregateWriter = (*usageWriter)(nil)
	_ usage.AggregateReader = (*usageQueries)(nil)
)
