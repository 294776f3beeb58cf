package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/domain/usage"
	"gateway/internal/testsupport"
	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

var (
	may1 = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	may2 = time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine(t *testing.T) (*Engine, *QueryService, *testsupport.UsageStore) {
	t.Helper()
	tick := may1
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	store := testsupport.NewUsageStore(clock)
	log := logger.NewNop()
	return NewEngine(store, log, WithClock(clock)), NewQueryService(store, log), store
}

func event(session, user, model string, prompt, completion int64, cost string, at time.Time) usage.Event {
	return usage.Event{
		SessionID:        session,
		UserID:           user,
		Provider:         "openai",
		ModelID:          model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalCost:        dec(cost),
		Currency:         "USD",
		OccurredAt:       at,
	}
}

func TestTrackUsage_MergesSameSessionKey(t *testing.T) {
	engine, query, _ := newTestEngine(t)
	ctx := context.Background()

	a := event("session-1", "user-1", "gpt-4o", 50, 10, "0.5", may1)
	a.InputCost, a.OutputCost = dec("0.3"), dec("0.2")
	b := event("session-1", "user-1", "gpt-4o", 20, 5, "0.24", may1.Add(time.Hour))
	b.InputCost, b.OutputCost = dec("0.12"), dec("0.12")

	require.NoError(t, engine.TrackUsage(ctx, a))
	require.NoError(t, engine.TrackUsage(ctx, b))

	rows, err := query.GetSessionUsage(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, int64(70), row.PromptTokens)
	assert.Equal(t, int64(15), row.CompletionTokens)
	assert.Equal(t, int64(85), row.TotalTokens)
	assert.True(t, row.TotalCost.Equal(dec("0.74")), "total_cost = %s", row.TotalCost)
	assert.True(t, row.InputCost.Equal(dec("0.42")))
	assert.True(t, row.OutputCost.Equal(dec("0.32")))
	assert.Equal(t, "USD", row.Currency)
}

func TestTrackUsage_DailyGrouping(t *testing.T) {
	engine, query, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.TrackUsage(ctx, event("s-a", "user-42", "gpt-4o", 30, 20, "0.5", may1)))
	require.NoError(t, engine.TrackUsage(ctx, event("s-b", "user-42", "gpt-4o", 30, 20, "0.5", may1.Add(2*time.Hour))))
	third := event("s-c", "user-42", "claude-3", 40, 10, "0.5", may2)
	third.Provider = "anthropic"
	require.NoError(t, engine.TrackUsage(ctx, third))

	rows, err := query.GetUserDailyUsage(ctx, "user-42", usage.DailyFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// newest date first
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), rows[0].Date)
	assert.Equal(t, "claude-3", rows[0].ModelID)
	assert.Equal(t, int64(1), rows[0].RequestCount)
	assert.Equal(t, int64(50), rows[0].TotalTokens)
	assert.True(t, rows[0].TotalCost.Equal(dec("0.5")))

	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), rows[1].Date)
	assert.Equal(t, "gpt-4o", rows[1].ModelID)
	assert.Equal(t, int64(2), rows[1].RequestCount)
	assert.Equal(t, int64(100), rows[1].TotalTokens)
	assert.True(t, rows[1].TotalCost.Equal(dec("1.0")))
}

func TestTrackUsage_MonthlyAccumulatesAcrossDays(t *testing.T) {
	engine, query, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.TrackUsage(ctx, event("s-1", "user-7", "gpt-4o", 10, 5, "0.1", may1)))
	second := event("s-2", "user-7", "gpt-4o", 20, 5, "0.2", may2)
	second.Provider = "azure"
	require.NoError(t, engine.TrackUsage(ctx, second))

	rows, err := query.GetMonthlyUsage(ctx, usage.MonthlyFilter{UserID: "user-7", YearMonth: "2024-05"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].RequestCount)
	assert.Equal(t, int64(40), rows[0].TotalTokens)
	assert.True(t, rows[0].TotalCost.Equal(dec("0.3")))
	assert.Equal(t, "azure", rows[0].Provider, "provider is last write wins")
}

func TestTrackUsage_MonthlyFailureRollsBackEverything(t *testing.T) {
	engine, query, store := newTestEngine(t)
	ctx := context.Background()

	store.FailOn(testsupport.FailMonthly, errors.New("disk full"))
	err := engine.TrackUsage(ctx, event("session-x", "user-9", "gpt-4o", 10, 10, "0.1", may1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorage))

	sessions, err := query.GetSessionUsage(ctx, "session-x")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	daily, err := query.GetDailyUsage(ctx, usage.DailyFilter{UserID: "user-9"})
	require.NoError(t, err)
	assert.Empty(t, daily)

	// the store keeps working once the fault clears
	store.FailOn(testsupport.FailMonthly, nil)
	require.NoError(t, engine.TrackUsage(ctx, event("session-x", "user-9", "gpt-4o", 10, 10, "0.1", may1)))
	daily, err = query.GetDailyUsage(ctx, usage.DailyFilter{UserID: "user-9"})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, int64(1), daily[0].RequestCount)
}

func TestTrackUsage_CancelledContextPersistsNothing(t *testing.T) {
	engine, query, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.TrackUsage(ctx, event("session-c", "user-c", "gpt-4o", 1, 1, "0.01", may1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorage))
	assert.True(t, errors.Is(err, context.Canceled))

	rows, err := query.GetSessionUsage(context.Background(), "session-c")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTrackUsage_ValidationErrorTouchesNothing(t *testing.T) {
	engine, query, _ := newTestEngine(t)
	ctx := context.Background()

	err := engine.TrackUsage(ctx, event("", "user-1", "gpt-4o", 1, 1, "0.01", may1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	assert.False(t, errors.Is(err, errors.ErrStorage))

	err = engine.TrackUsage(ctx, event("s", "user-1", "gpt-4o", -1, 1, "0.01", may1))
	require.Error(t, err)

	rows, err := query.GetDailyUsage(ctx, usage.DailyFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTrackUsage_DefaultsTimestampAndCurrency(t *testing.T) {
	engine, query, _ := newTestEngine(t)
	ctx := context.Background()

	e := event("session-d", "", "gpt-4o", 5, 5, "0.01", time.Time{})
	e.Currency = ""
	require.NoError(t, engine.TrackUsage(ctx, e))

	rows, err := query.GetSessionUsage(ctx, "session-d")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, usage.DefaultCurrency, rows[0].Currency)
	assert.Equal(t, "", rows[0].UserID)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), rows[0].UsageDate)
}

func TestTrackUsage_ConcurrentSameKey(t *testing.T) {
	engine, query, _ := newTestEngine(t)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.TrackUsage(ctx, event("session-hot", "user-hot", "gpt-4o", 3, 2, "0.001", may1)))
		}()
	}
	wg.Wait()

	daily, err := query.GetDailyUsage(ctx, usage.DailyFilter{UserID: "user-hot"})
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, int64(workers), daily[0].RequestCount)
	assert.Equal(t, int64(workers*5), daily[0].TotalTokens)
	assert.True(t, daily[0].TotalCost.Equal(dec("0.032")))

	sessions, err := query.GetSessionUsage(ctx, "session-hot")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(workers*3), sessions[0].PromptTokens)
}
