package usage

import (
	"strings"
	"time"

	"gateway/pkg/errors"
)

// DailyFilter narrows daily aggregate queries. Zero values mean "any".
type DailyFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Provider  string
	ModelID   string
	UserID    string
}

// ForDay matches exactly one calendar day
func ForDay(day time.Time) DailyFilter {
	d := TruncateDay(day)
	return DailyFilter{StartDate: &d, EndDate: &d}
}

func (f DailyFilter) Validate() error {
	return validateRange(f.StartDate, f.EndDate)
}

// Normalize truncates the bounds to UTC days
func (f DailyFilter) Normalize() DailyFilter {
	f.StartDate = truncatePtr(f.StartDate)
	f.EndDate = truncatePtr(f.EndDate)
	f.Provider = strings.TrimSpace(f.Provider)
	f.ModelID = strings.TrimSpace(f.ModelID)
	f.UserID = strings.TrimSpace(f.UserID)
	return f
}

// MonthlyFilter narrows monthly aggregate queries. YearMonth selects one period;
// StartMonth/EndMonth select an inclusive range. All are "YYYY-MM".
type MonthlyFilter struct {
	YearMonth  string
	StartMonth string
	EndMonth   string
	Provider   string
	ModelID    string
	UserID     string
}

func (f MonthlyFilter) Validate() error {
	for _, m := range []struct{ field, value string }{
		{"year_month", f.YearMonth},
		{"start_month", f.StartMonth},
		{"end_month", f.EndMonth},
	} {
		if m.value == "" {
			continue
		}
		if _, err := time.Parse(MonthLayout, m.value); err != nil {
			return errors.NewValidationError(m.field, "must be formatted YYYY-MM", m.value)
		}
	}
	if f.StartMonth != "" && f.EndMonth != "" && f.StartMonth > f.EndMonth {
		return errors.NewValidationError("start_month", "must be before or equal to end_month", f.StartMonth)
	}
	return nil
}

func (f MonthlyFilter) Normalize() MonthlyFilter {
	f.YearMonth = strings.TrimSpace(f.YearMonth)
	f.StartMonth = strings.TrimSpace(f.StartMonth)
	f.EndMonth = strings.TrimSpace(f.EndMonth)
	f.Provider = strings.TrimSpace(f.Provider)
	f.ModelID = strings.TrimSpace(f.ModelID)
	f.UserID = strings.TrimSpace(f.UserID)
	return f
}

// SessionFilter narrows a user's session aggregates. UserID is required.
type SessionFilter struct {
	UserID    string
	StartDate *time.Time
	EndDate   *time.Time
	Provider  string
	ModelID   string
}

func (f SessionFilter) Validate() error {
	if f.UserID == "" {
		return errors.NewValidationError("user_id", "is required", f.UserID)
	}
	return validateRange(f.StartDate, f.EndDate)
}

func (f SessionFilter) Normalize() SessionFilter {
	f.UserID = strings.TrimSpace(f.UserID)
	f.StartDate = truncatePtr(f.StartDate)
	f.EndDate = truncatePtr(f.EndDate)
	f.Provider = strings.TrimSpace(f.Provider)
	f.ModelID = strings.TrimSpace(f.ModelID)
	return f
}

// ParseDate parses a "YYYY-MM-DD" day in UTC
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, errors.NewValidationError("date", "must be formatted YYYY-MM-DD", s)
	}
	return t, nil
}

func validateRange(start, end *time.Time) error {
	if start != nil && end != nil && TruncateDay(*start).After(TruncateDay(*end)) {
		return errors.NewValidationError("start_date", "must be before or equal to end_date", start.Format(DateLayout))
	}
	return nil
}

func truncatePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := TruncateDay(*t)
	return &d
}
