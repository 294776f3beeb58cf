package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"

	"gateway/internal/domain/usage"
	"gateway/pkg/errors"
)

// Fault injection points for UsageStore
const (
	FailSession = "session"
	FailDaily   = "daily"
	FailMonthly = "monthly"
	FailCommit  = "commit"
)

type sessionKey struct {
	sessionID, userID, date, modelID string
}

type bucketKey struct {
	bucket, userID, modelID string
}

type usageState struct {
	sessions map[sessionKey]usage.SessionAggregate
	daily    map[bucketKey]usage.DailyAggregate
	monthly  map[bucketKey]usage.MonthlyAggregate
}

func (s usageState) clone() usageState {
	out := usageState{
		sessions: make(map[sessionKey]usage.SessionAggregate, len(s.sessions)),
		daily:    make(map[bucketKey]usage.DailyAggregate, len(s.daily)),
		monthly:  make(map[bucketKey]usage.MonthlyAggregate, len(s.monthly)),
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.daily {
		out.daily[k] = v
	}
	for k, v := range s.monthly {
		out.monthly[k] = v
	}
	return out
}

// UsageStore is an in-memory usage.Repository with the same key, accumulation and
// ordering rules as the Postgres store. Transactions stage writes on a copy that is
// swapped in only on commit.
type UsageStore struct {
	mu     sync.Mutex
	state  usageState
	seq    int64
	clock  func() time.Time
	faults map[string]error
}

// NewUsageStore creates an empty store. clock stamps updated_at; nil uses time.Now.
// Session rows take created_at from the first event's occurred_at.
func NewUsageStore(clock func() time.Time) *UsageStore {
	if clock == nil {
		clock = time.Now
	}
	return &UsageStore{
		state:  usageState{}.clone(),
		clock:  clock,
		faults: make(map[string]error),
	}
}

// FailOn makes the named step return err until cleared with a nil err
func (s *UsageStore) FailOn(step string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, step)
		return
	}
	s.faults[step] = err
}

func (s *UsageStore) WithinTx(ctx context.Context, fn func(w usage.AggregateWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.NewStorageError("begin transaction", err)
	}

	w := &memWriter{store: s, staged: s.state.clone(), seq: s.seq}
	if err := fn(w); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.NewStorageError("commit transaction", err)
	}
	if err := s.faults[FailCommit]; err != nil {
		return errors.NewStorageError("commit transaction", err)
	}

	s.state = w.staged
	s.seq = w.seq
	return nil
}

func (s *UsageStore) WithinSnapshot(ctx context.Context, fn func(r usage.AggregateReader) error) error {
	s.mu.Lock()
	snap := &memReader{state: s.state.clone()}
	s.mu.Unlock()
	return fn(snap)
}

func (s *UsageStore) ListSession(ctx context.Context, sessionID string) ([]usage.SessionAggregate, error) {
	return s.reader().ListSession(ctx, sessionID)
}

func (s *UsageStore) ListDaily(ctx context.Context, f usage.DailyFilter) ([]usage.DailyAggregate, error) {
	return s.reader().ListDaily(ctx, f)
}

func (s *UsageStore) ListMonthly(ctx context.Context, f usage.MonthlyFilter) ([]usage.MonthlyAggregate, error) {
	return s.reader().ListMonthly(ctx, f)
}

func (s *UsageStore) ListUserSessions(ctx context.Context, f usage.SessionFilter) ([]usage.SessionAggregate, error) {
	return s.reader().ListUserSessions(ctx, f)
}

func (s *UsageStore) reader() *memReader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memReader{state: s.state.clone()}
}

type memWriter struct {
	store  *UsageStore
	staged usageState
	seq    int64
}

func (w *memWriter) nextID() int64 {
	w.seq++
	return w.seq
}

func (w *memWriter) UpsertSession(ctx context.Context, e usage.Event) error {
	if err := w.store.faults[FailSession]; err != nil {
		return errors.NewStorageError("upsert session_usage", err)
	}
	key := sessionKey{e.SessionID, e.UserID, e.UsageDate().Format(usage.DateLayout), e.ModelID}
	row, ok := w.staged.sessions[key]
	if !ok {
		row = usage.SessionAggregate{
			ID:        w.nextID(),
			SessionID: e.SessionID,
			UserID:    e.UserID,
			UsageDate: e.UsageDate(),
			ModelID:   e.ModelID,
			CreatedAt: e.OccurredAt,
		}
	}
	row.Provider = e.Provider
	row.Currency = e.Currency
	row.PromptTokens += e.PromptTokens
	row.CompletionTokens += e.CompletionTokens
	row.TotalTokens += e.TotalTokens()
	row.InputCost = row.InputCost.Add(e.InputCost)
	row.OutputCost = row.OutputCost.Add(e.OutputCost)
	row.TotalCost = row.TotalCost.Add(e.TotalCost)
	w.staged.sessions[key] = row
	return nil
}

func (w *memWriter) UpsertDaily(ctx context.Context, e usage.Event) error {
	if err := w.store.faults[FailDaily]; err != nil {
		return errors.NewStorageError("upsert daily_usage", err)
	}
	key := bucketKey{e.UsageDate().Format(usage.DateLayout), e.UserID, e.ModelID}
	row, ok := w.staged.daily[key]
	if !ok {
		row = usage.DailyAggregate{ID: w.nextID(), Date: e.UsageDate(), UserID: e.UserID, ModelID: e.ModelID}
	}
	row.Provider = e.Provider
	row.PromptTokens += e.PromptTokens
	row.CompletionTokens += e.CompletionTokens
	row.TotalTokens += e.TotalTokens()
	row.TotalCost = row.TotalCost.Add(e.TotalCost)
	row.RequestCount++
	row.UpdatedAt = w.store.clock()
	w.staged.daily[key] = row
	return nil
}

func (w *memWriter) UpsertMonthly(ctx context.Context, e usage.Event) error {
	if err := w.store.faults[FailMonthly]; err != nil {
		return errors.NewStorageError("upsert monthly_usage", err)
	}
	key := bucketKey{e.YearMonth(), e.UserID, e.ModelID}
	row, ok := w.staged.monthly[key]
	if !ok {
		row = usage.MonthlyAggregate{ID: w.nextID(), YearMonth: e.YearMonth(), UserID: e.UserID, ModelID: e.ModelID}
	}
	row.Provider = e.Provider
	row.PromptTokens += e.PromptTokens
	row.CompletionTokens += e.CompletionTokens
	row.TotalTokens += e.TotalTokens()
	row.TotalCost = row.TotalCost.Add(e.TotalCost)
	row.RequestCount++
	row.UpdatedAt = w.store.clock()
	w.staged.monthly[key] = row
	return nil
}

type memReader struct {
	state usageState
}

func (r *memReader) ListSession(ctx context.Context, sessionID string) ([]usage.SessionAggregate, error) {
	out := make([]usage.SessionAggregate, 0)
	for _, row := range r.state.sessions {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memReader) ListDaily(ctx context.Context, f usage.DailyFilter) ([]usage.DailyAggregate, error) {
	out := make([]usage.DailyAggregate, 0)
	for _, row := range r.state.daily {
		if !inRange(row.Date, f.StartDate, f.EndDate) ||
			!matches(f.Provider, row.Provider) || !matches(f.ModelID, row.ModelID) || !matches(f.UserID, row.UserID) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.ModelID != b.ModelID {
			return a.ModelID < b.ModelID
		}
		return a.Provider < b.Provider
	})
	return out, nil
}

func (r *memReader) ListMonthly(ctx context.Context, f usage.MonthlyFilter) ([]usage.MonthlyAggregate, error) {
	out := make([]usage.MonthlyAggregate, 0)
	for _, row := range r.state.monthly {
		if !matches(f.YearMonth, row.YearMonth) ||
			(f.StartMonth != "" && row.YearMonth < f.StartMonth) ||
			(f.EndMonth != "" && row.YearMonth > f.EndMonth) ||
			!matches(f.Provider, row.Provider) || !matches(f.ModelID, row.ModelID) || !matches(f.UserID, row.UserID) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.YearMonth != b.YearMonth {
			return a.YearMonth > b.YearMonth
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.ModelID != b.ModelID {
			return a.ModelID < b.ModelID
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (r *memReader) ListUserSessions(ctx context.Context, f usage.SessionFilter) ([]usage.SessionAggregate, error) {
	out := make([]usage.SessionAggregate, 0)
	for _, row := range r.state.sessions {
		if row.UserID != f.UserID || !inRange(row.UsageDate, f.StartDate, f.EndDate) ||
			!matches(f.Provider, row.Provider) || !matches(f.ModelID, row.ModelID) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.UsageDate.Equal(b.UsageDate) {
			return a.UsageDate.After(b.UsageDate)
		}
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		if a.ModelID != b.ModelID {
			return a.ModelID < b.ModelID
		}
		return a.Provider < b.Provider
	})
	return out, nil
}

func matches(want, got string) bool {
	return want == "" || want == got
}

func inRange(day time.Time, start, end *time.Time) bool {
	if start != nil && day.Before(usage.TruncateDay(*start)) {
		return false
	}
	if end != nil && day.After(usage.TruncateDay(*end)) {
		return false
	}
	return true
}

var _ usage.Repository = (*UsageStore)(nil)
