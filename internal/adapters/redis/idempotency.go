package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"gateway/pkg/errors"
)

const (
	claimKeyPrefix = "usage:event:"

	claimInFlight = "inflight"
	claimDone     = "done"
)

// ClaimState is the outcome of claiming an event id
type ClaimState int

const (
	// ClaimAcquired means this delivery owns the event until Complete or Release
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another delivery holds an unfinished claim
	ClaimInFlight
	// ClaimDone means the event was already applied
	ClaimDone
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimInFlight:
		return claimInFlight
	case ClaimDone:
		return claimDone
	default:
		return "unknown"
	}
}

// IdempotencyGuard remembers which event ids were already applied so
// redelivered Kafka messages are not counted twice.
//
// A claim starts as "inflight" with a short TTL and is promoted to "done"
// only after the event committed, so a delivery that dies mid-way never
// marks its event as applied.
type IdempotencyGuard struct {
	client *Client
	prefix string
}

// NewIdempotencyGuard creates a guard storing claims under usage:event:<id>
func NewIdempotencyGuard(client *Client) *IdempotencyGuard {
	return &IdempotencyGuard{client: client, prefix: claimKeyPrefix}
}

// Claim marks id as in flight for ttl. If the key already exists its value
// decides between ClaimDone and ClaimInFlight.
func (g *IdempotencyGuard) Claim(ctx context.Context, id string, ttl time.Duration) (ClaimState, error) {
	if id == "" {
		return ClaimInFlight, errors.NewValidationError("event_id", "is required", id)
	}
	key := g.prefix + id

	ok, err := g.client.rdb.SetNX(ctx, key, claimInFlight, ttl).Result()
	if err != nil {
		return ClaimInFlight, errors.Wrapf(err, "claim event %s", id)
	}
	if ok {
		return ClaimAcquired, nil
	}

	val, err := g.client.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// expired between SETNX and GET; the next attempt can take it
		return ClaimInFlight, nil
	case err != nil:
		return ClaimInFlight, errors.Wrapf(err, "read claim for event %s", id)
	case val == claimDone:
		return ClaimDone, nil
	default:
		return ClaimInFlight, nil
	}
}

// Complete marks id as applied for ttl
func (g *IdempotencyGuard) Complete(ctx context.Context, id string, ttl time.Duration) error {
	if err := g.client.rdb.Set(ctx, g.prefix+id, claimDone, ttl).Err(); err != nil {
		return errors.Wrapf(err, "complete event %s", id)
	}
	return nil
}

// Release drops a claim so a failed event can be retried
func (g *IdempotencyGuard) Release(ctx context.Context, id string) error {
	if err := g.client.rdb.Del(ctx, g.prefix+id).Err(); err != nil {
		return errors.Wrapf(err, "release event %s", id)
	}
	return nil
}
