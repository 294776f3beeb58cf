package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"gateway/pkg/errors"
)

// Limiter throttles work to a steady rate with a bounded burst
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter creates a limiter allowing perSecond events with the given burst.
// A non-positive burst is raised to 1.
func NewLimiter(name string, perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		name:    name,
	}
}

// Unlimited returns a limiter that never blocks
func Unlimited(name string) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1), name: name}
}

// Wait blocks until a token is available or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(errors.ErrRateLimited, "limiter %s: %v", l.name, err)
	}
	return nil
}

// Allow reports whether an event may happen now without blocking
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}
