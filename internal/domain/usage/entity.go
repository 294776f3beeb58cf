package usage

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gateway/pkg/errors"
)

const (
	// DateLayout is the wire and storage format of a usage date
	DateLayout = "2006-01-02"
	// MonthLayout is the format of a year_month bucket
	MonthLayout = "2006-01"

	// DefaultCurrency applies when an event carries none
	DefaultCurrency = "USD"

	// CostScale is the number of decimal places costs are rounded to before tracking
	CostScale = 6
)

// Event is one completed provider call. It is never stored as-is; it is merged into
// the session, daily and monthly aggregates.
type Event struct {
	SessionID string
	UserID    string // empty for anonymous traffic
	Provider  string // openai, anthropic, gemini
	ModelID   string

	PromptTokens     int64
	CompletionTokens int64

	InputCost  decimal.Decimal
	OutputCost decimal.Decimal
	TotalCost  decimal.Decimal
	Currency   string

	OccurredAt time.Time
}

// TotalTokens is prompt plus completion
func (e Event) TotalTokens() int64 {
	return e.PromptTokens + e.CompletionTokens
}

// UsageDate is the UTC calendar day of the event, at midnight
func (e Event) UsageDate() time.Time {
	return TruncateDay(e.OccurredAt)
}

// YearMonth is the UTC "YYYY-MM" bucket of the event
func (e Event) YearMonth() string {
	return e.OccurredAt.UTC().Format(MonthLayout)
}

// Normalize fills defaults: OccurredAt from now when zero, currency, trimmed identifiers
func (e *Event) Normalize(now time.Time) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	e.OccurredAt = e.OccurredAt.UTC()
	e.SessionID = strings.TrimSpace(e.SessionID)
	e.UserID = strings.TrimSpace(e.UserID)
	e.Provider = strings.TrimSpace(e.Provider)
	e.ModelID = strings.TrimSpace(e.ModelID)
	e.Currency = strings.ToUpper(strings.TrimSpace(e.Currency))
	if e.Currency == "" {
		e.Currency = DefaultCurrency
	}
}

// Validate rejects events that cannot be merged
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.NewValidationError("session_id", "is required", e.SessionID)
	}
	if e.ModelID == "" {
		return errors.NewValidationError("model_id", "is required", e.ModelID)
	}
	if e.Provider == "" {
		return errors.NewValidationError("provider", "is required", e.Provider)
	}
	if e.PromptTokens < 0 {
		return errors.NewValidationError("prompt_tokens", "must not be negative", e.PromptTokens)
	}
	if e.CompletionTokens < 0 {
		return errors.NewValidationError("completion_tokens", "must not be negative", e.CompletionTokens)
	}
	costs := []struct {
		field string
		value decimal.Decimal
	}{
		{"input_cost", e.InputCost},
		{"output_cost", e.OutputCost},
		{"total_cost", e.TotalCost},
	}
	for _, c := range costs {
		if c.value.IsNegative() {
			return errors.NewValidationError(c.field, "must not be negative", c.value.String())
		}
	}
	return nil
}

// SessionAggregate accumulates usage per (session_id, user_id, usage_date, model_id)
type SessionAggregate struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	UserID    string    `db:"user_id"`
	UsageDate time.Time `db:"usage_date"`
	Provider  string    `db:"provider"` // last write wins
	ModelID   string    `db:"model_id"`

	PromptTokens     int64 `db:"prompt_tokens"`
	CompletionTokens int64 `db:"completion_tokens"`
	TotalTokens      int64 `db:"total_tokens"`

	InputCost  decimal.Decimal `db:"input_cost"`
	OutputCost decimal.Decimal `db:"output_cost"`
	TotalCost  decimal.Decimal `db:"total_cost"`
	Currency   string          `db:"currency"` // last write wins

	CreatedAt time.Time `db:"created_at"`
}

// DailyAggregate accumulates usage per (date, user_id, model_id)
type DailyAggregate struct {
	ID       int64     `db:"id"`
	Date     time.Time `db:"date"`
	UserID   string    `db:"user_id"`
	Provider string    `db:"provider"` // last write wins
	ModelID  string    `db:"model_id"`

	PromptTokens     int64           `db:"prompt_tokens"`
	CompletionTokens int64           `db:"completion_tokens"`
	TotalTokens      int64           `db:"total_tokens"`
	TotalCost        decimal.Decimal `db:"total_cost"`
	RequestCount     int64           `db:"request_count"`

	UpdatedAt time.Time `db:"updated_at"`
}

// MonthlyAggregate accumulates usage per (year_month, user_id, model_id)
type MonthlyAggregate struct {
	ID        int64  `db:"id"`
	YearMonth string `db:"year_month"`
	UserID    string `db:"user_id"`
	Provider  string `db:"provider"`
	ModelID   string `db:"model_id"`

	PromptTokens     int64           `db:"prompt_tokens"`
	CompletionTokens int64           `db:"completion_tokens"`
	TotalTokens      int64           `db:"total_tokens"`
	TotalCost        decimal.Decimal `db:"total_cost"`
	RequestCount     int64           `db:"request_count"`

	UpdatedAt time.Time `db:"updated_at"`
}

// Totals is a token and cost rollup
type Totals struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	TotalCost        decimal.Decimal
	RequestCount     int64
}

// FullUserUsage is the composite history of one user
type FullUserUsage struct {
	UserID   string
	Totals   Totals // summed from Daily only
	Daily    []DailyAggregate
	Monthly  []MonthlyAggregate
	Sessions []SessionAggregate
}

// SessionSummary is every aggregate of a session plus its rollup
type SessionSummary struct {
	SessionID string
	Records   []SessionAggregate
	Totals    Totals // TotalCost rounded to CostScale
}

// SumDaily adds daily rows into Totals
func SumDaily(rows []DailyAggregate) Totals {
	t := Totals{TotalCost: decimal.Zero}
	for _, r := range rows {
		t.PromptTokens += r.PromptTokens
		t.CompletionTokens += r.CompletionTokens
		t.TotalTokens += r.TotalTokens
		t.TotalCost = t.TotalCost.Add(r.TotalCost)
		t.RequestCount += r.RequestCount
	}
	return t
}

// SumSessions adds session rows into Totals. RequestCount stays zero since
// session rows do not count requests.
func SumSessions(rows []SessionAggregate) Totals {
	t := Totals{TotalCost: decimal.Zero}
	for _, r := range rows {
		t.PromptTokens += r.PromptTokens
		t.CompletionTokens += r.CompletionTokens
		t.TotalTokens += r.TotalTokens
		t.TotalCost = t.TotalCost.Add(r.TotalCost)
	}
	return t
}

// RoundCost rounds to CostScale places, half away from zero
func RoundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostScale)
}

// TruncateDay returns midnight UTC of t's UTC calendar day
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
