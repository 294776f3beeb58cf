package tracking

import (
	"context"
	"strings"
	"time"

	"gateway/internal/domain/usage"
	"gateway/internal/metrics"
	"gateway/pkg/errors"
	"gateway/pkg/logger"
)

// Reader is the read side of the aggregate store plus consistent snapshots
type Reader interface {
	usage.AggregateReader
	WithinSnapshot(ctx context.Context, fn func(r usage.AggregateReader) error) error
}

// QueryService serves read-only filtered views of the aggregates.
// Empty results are returned as empty slices, never as errors.
type QueryService struct {
	reader Reader
	log    *logger.Logger
}

// NewQueryService creates a new query service
func NewQueryService(reader Reader, log *logger.Logger) *QueryService {
	return &QueryService{
		reader: reader,
		log:    log.With("component", "usage_query"),
	}
}

// GetSessionUsage returns every aggregate of a session, oldest first
func (s *QueryService) GetSessionUsage(ctx context.Context, sessionID string) ([]usage.SessionAggregate, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.NewValidationError("session_id", "is required", sessionID)
	}

	start := time.Now()
	rows, err := s.reader.ListSession(ctx, sessionID)
	metrics.RecordQuery("session", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "get session usage")
	}
	return rows, nil
}

// GetSessionSummary returns a session's aggregates with summed tokens and
// total cost rounded for display
func (s *QueryService) GetSessionSummary(ctx context.Context, sessionID string) (*usage.SessionSummary, error) {
	rows, err := s.GetSessionUsage(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	totals := usage.SumSessions(rows)
	totals.TotalCost = usage.RoundCost(totals.TotalCost)
	return &usage.SessionSummary{
		SessionID: strings.TrimSpace(sessionID),
		Records:   rows,
		Totals:    totals,
	}, nil
}

// GetDailyUsage returns daily aggregates, newest date first
func (s *QueryService) GetDailyUsage(ctx context.Context, filter usage.DailyFilter) ([]usage.DailyAggregate, error) {
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.reader.ListDaily(ctx, filter)
	metrics.RecordQuery("daily", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "get daily usage")
	}
	return rows, nil
}

// GetUserDailyUsage is GetDailyUsage restricted to one user
func (s *QueryService) GetUserDailyUsage(ctx context.Context, userID string, filter usage.DailyFilter) ([]usage.DailyAggregate, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.NewValidationError("user_id", "is required", userID)
	}
	filter.UserID = userID
	return s.GetDailyUsage(ctx, filter)
}

// GetMonthlyUsage returns monthly aggregates, newest period first
func (s *QueryService) GetMonthlyUsage(ctx context.Context, filter usage.MonthlyFilter) ([]usage.MonthlyAggregate, error) {
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.reader.ListMonthly(ctx, filter)
	metrics.RecordQuery("monthly", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "get monthly usage")
	}
	return rows, nil
}

// GetUserSessionUsage returns a user's session aggregates, newest day first
func (s *QueryService) GetUserSessionUsage(ctx context.Context, filter usage.SessionFilter) ([]usage.SessionAggregate, error) {
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.reader.ListUserSessions(ctx, filter)
	metrics.RecordQuery("user_sessions", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "get user session usage")
	}
	return rows, nil
}

// GetFullUserUsage returns a user's daily, monthly and session history read from one
// snapshot. Totals come from the daily rows only: session and daily rows are
// independent projections of the same events and summing both would double count.
func (s *QueryService) GetFullUserUsage(ctx context.Context, userID string) (*usage.FullUserUsage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.NewValidationError("user_id", "is required", userID)
	}

	result := &usage.FullUserUsage{UserID: userID}
	start := time.Now()
	err := s.reader.WithinSnapshot(ctx, func(r usage.AggregateReader) error {
		var err error
		if result.Daily, err = r.ListDaily(ctx, usage.DailyFilter{UserID: userID}); err != nil {
			return err
		}
		if result.Monthly, err = r.ListMonthly(ctx, usage.MonthlyFilter{UserID: userID}); err != nil {
			return err
		}
		result.Sessions, err = r.ListUserSessions(ctx, usage.SessionFilter{UserID: userID})
		return err
	})
	metrics.RecordQuery("full_user", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "get full user usage")
	}

	result.Totals = usage.SumDaily(result.Daily)
	return result, nil
}
