package usage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/domain/usage"
	"gateway/pkg/errors"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDailyFilterValidate(t *testing.T) {
	require.NoError(t, usage.DailyFilter{}.Validate())
	require.NoError(t, usage.DailyFilter{StartDate: day(2024, 5, 1), EndDate: day(2024, 5, 1)}.Validate())
	require.NoError(t, usage.DailyFilter{StartDate: day(2024, 5, 1)}.Validate())

	err := usage.DailyFilter{StartDate: day(2024, 5, 3), EndDate: day(2024, 5, 1)}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestForDay(t *testing.T) {
	f := usage.ForDay(time.Date(2024, 5, 1, 18, 45, 0, 0, time.UTC))
	require.NotNil(t, f.StartDate)
	require.NotNil(t, f.EndDate)
	assert.Equal(t, *day(2024, 5, 1), *f.StartDate)
	assert.Equal(t, *f.StartDate, *f.EndDate)
}

func TestMonthlyFilterValidate(t *testing.T) {
	require.NoError(t, usage.MonthlyFilter{YearMonth: "2024-05"}.Validate())
	require.NoError(t, usage.MonthlyFilter{StartMonth: "2024-01", EndMonth: "2024-05"}.Validate())

	err := usage.MonthlyFilter{YearMonth: "2024-5"}.Validate()
	require.Error(t, err)
	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "year_month", ve.Field)

	err = usage.MonthlyFilter{StartMonth: "2024-06", EndMonth: "2024-05"}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestSessionFilterRequiresUser(t *testing.T) {
	err := usage.SessionFilter{}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	err = usage.SessionFilter{UserID: "user-42", StartDate: day(2024, 5, 2), EndDate: day(2024, 5, 1)}.Validate()
	require.Error(t, err)

	require.NoError(t, usage.SessionFilter{UserID: "user-42"}.Validate())
}

func TestParseDate(t *testing.T) {
	d, err := usage.ParseDate("2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, *day(2024, 5, 2), d)

	_, err = usage.ParseDate("05/02/2024")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
