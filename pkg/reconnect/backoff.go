package reconnect

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff tracks consecutive failures of a long-running loop (fetching from
// Kafka, pinging a store) and hands out growing delays between attempts
type Backoff struct {
	minBackoff    time.Duration
	maxBackoff    time.Duration
	multiplier    float64
	jitterPercent float64

	mu                  sync.Mutex
	currentBackoff      time.Duration
	consecutiveFailures int
}

// Config configures a Backoff
type Config struct {
	MinBackoff        time.Duration // first delay (default 500ms)
	MaxBackoff        time.Duration // ceiling (default 30s)
	BackoffMultiplier float64       // growth per failure (default 2)
	JitterPercent     float64       // up to this fraction is added to each delay, 0..1
}

// New creates a Backoff, filling defaults for zero fields
func New(cfg Config) *Backoff {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.JitterPercent < 0 || cfg.JitterPercent > 1 {
		cfg.JitterPercent = 0
	}

	return &Backoff{
		minBackoff:     cfg.MinBackoff,
		maxBackoff:     cfg.MaxBackoff,
		multiplier:     cfg.BackoffMultiplier,
		jitterPercent:  cfg.JitterPercent,
		currentBackoff: cfg.MinBackoff,
	}
}

// RecordFailure returns the delay to wait before the next attempt and grows the next one
func (b *Backoff) RecordFailure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	delay := b.currentBackoff

	next := time.Duration(float64(b.currentBackoff) * b.multiplier)
	if next > b.maxBackoff {
		next = b.maxBackoff
	}
	b.currentBackoff = next

	return withJitter(delay, b.jitterPercent)
}

// RecordSuccess resets the delay and the failure counter.
// It reports how many failures preceded it.
func (b *Backoff) RecordSuccess() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	failures := b.consecutiveFailures
	b.consecutiveFailures = 0
	b.currentBackoff = b.minBackoff
	return failures
}

// Failures is the number of failures since the last success
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Wait records a failure and sleeps for the resulting delay or until ctx is done
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.RecordFailure())
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func withJitter(d time.Duration, percent float64) time.Duration {
	if percent <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*percent*float64(d))
}
