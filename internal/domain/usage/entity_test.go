package usage_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/domain/usage"
	"gateway/pkg/errors"
)

func TestEventDerivedFields(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	e := usage.Event{
		PromptTokens:     30,
		CompletionTokens: 20,
		// 01:30 local on June 1st is still May 31st in UTC
		OccurredAt: time.Date(2024, 6, 1, 1, 30, 0, 0, loc),
	}

	assert.Equal(t, int64(50), e.TotalTokens())
	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), e.UsageDate())
	assert.Equal(t, "2024-05", e.YearMonth())
}

func TestEventNormalize(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := usage.Event{SessionID: " s-1 ", ModelID: "gpt-4o ", Currency: "usd"}
	e.Normalize(now)

	assert.Equal(t, "s-1", e.SessionID)
	assert.Equal(t, "gpt-4o", e.ModelID)
	assert.Equal(t, "USD", e.Currency)
	assert.Equal(t, now, e.OccurredAt)

	e = usage.Event{}
	e.Normalize(now)
	assert.Equal(t, usage.DefaultCurrency, e.Currency)
}

func TestEventValidate(t *testing.T) {
	valid := usage.Event{SessionID: "s", ModelID: "m", Provider: "openai", PromptTokens: 1}
	require.NoError(t, valid.Validate())

	cases := map[string]usage.Event{
		"session_id":        {ModelID: "m", Provider: "p"},
		"model_id":          {SessionID: "s", Provider: "p"},
		"provider":          {SessionID: "s", ModelID: "m"},
		"prompt_tokens":     {SessionID: "s", ModelID: "m", Provider: "p", PromptTokens: -1},
		"completion_tokens": {SessionID: "s", ModelID: "m", Provider: "p", CompletionTokens: -1},
		"output_cost":       {SessionID: "s", ModelID: "m", Provider: "p", OutputCost: decimal.RequireFromString("-0.1")},
	}
	for field, e := range cases {
		t.Run(field, func(t *testing.T) {
			err := e.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidInput))
			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, field, ve.Field)
		})
	}
}

func TestSumDaily(t *testing.T) {
	rows := []usage.DailyAggregate{
		{PromptTokens: 60, CompletionTokens: 40, TotalTokens: 100, TotalCost: decimal.RequireFromString("1.0"), RequestCount: 2},
		{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50, TotalCost: decimal.RequireFromString("0.5"), RequestCount: 1},
	}
	totals := usage.SumDaily(rows)

	assert.Equal(t, int64(100), totals.PromptTokens)
	assert.Equal(t, int64(50), totals.CompletionTokens)
	assert.Equal(t, int64(150), totals.TotalTokens)
	assert.Equal(t, int64(3), totals.RequestCount)
	assert.True(t, totals.TotalCost.Equal(decimal.RequireFromString("1.5")))

	assert.True(t, usage.SumDaily(nil).TotalCost.IsZero())
}

func TestRoundCost(t *testing.T) {
	assert.Equal(t, "0.000002", usage.RoundCost(decimal.RequireFromString("0.0000015")).String())
	assert.Equal(t, "0.123457", usage.RoundCost(decimal.RequireFromString("0.1234565")).String())
}
