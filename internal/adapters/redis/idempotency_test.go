package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/internal/testsupport"
	"gateway/pkg/errors"
)

func TestIdempotencyGuard_ClaimOnce(t *testing.T) {
	_, rdb := testsupport.NewMiniRedis(t)
	guard := NewIdempotencyGuard(NewClientFromRedis(rdb))
	ctx := context.Background()

	state, err := guard.Claim(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)

	state, err = guard.Claim(ctx, "evt-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, state, "second delivery must not win the claim")

	state, err = guard.Claim(ctx, "evt-2", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestIdempotencyGuard_ReleaseAllowsRetry(t *testing.T) {
	_, rdb := testsupport.NewMiniRedis(t)
	guard := NewIdempotencyGuard(NewClientFromRedis(rdb))
	ctx := context.Background()

	state, err := guard.Claim(ctx, "evt-r", time.Hour)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	require.NoError(t, guard.Release(ctx, "evt-r"))

	state, err = guard.Claim(ctx, "evt-r", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestIdempotencyGuard_ClaimExpires(t *testing.T) {
	srv, rdb := testsupport.NewMiniRedis(t)
	guard := NewIdempotencyGuard(NewClientFromRedis(rdb))
	ctx := context.Background()

	state, err := guard.Claim(ctx, "evt-ttl", time.Minute)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)
	assert.True(t, srv.Exists("usage:event:evt-ttl"))

	srv.FastForward(2 * time.Minute)

	state, err = guard.Claim(ctx, "evt-ttl", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestIdempotencyGuard_CompletePromotesClaim(t *testing.T) {
	srv, rdb := testsupport.NewMiniRedis(t)
	guard := NewIdempotencyGuard(NewClientFromRedis(rdb))
	ctx := context.Background()

	state, err := guard.Claim(ctx, "evt-c", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	val, err := srv.Get("usage:event:evt-c")
	require.NoError(t, err)
	assert.Equal(t, "inflight", val)
	assert.Equal(t, 10*time.Second, srv.TTL("usage:event:evt-c"))

	require.NoError(t, guard.Complete(ctx, "evt-c", 24*time.Hour))

	val, err = srv.Get("usage:event:evt-c")
	require.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 24*time.Hour, srv.TTL("usage:event:evt-c"))

	state, err = guard.Claim(ctx, "evt-c", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ClaimDone, state)
}

func TestIdempotencyGuard_StaleInFlightClaimExpires(t *testing.T) {
	srv, rdb := testsupport.NewMiniRedis(t)
	guard := NewIdempotencyGuard(NewClientFromRedis(rdb))
	ctx := context.Background()

	// a delivery that died before committing leaves only a short-lived claim
	state, err := guard.Claim(ctx, "evt-crash", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, state)

	state, err = guard.Claim(ctx, "evt-crash", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, state)

	srv.FastForward(11 * time.Second)

	state, err = guard.Claim(ctx, "evt-crash", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, state)
}

func TestIdempotencyGuard_Errors(t *testing.T) {
	srv, rdb := testsupport.NewMiniRedis(t)
	client := NewClientFromRedis(rdb)
	guard := NewIdempotencyGuard(client)
	ctx := context.Background()

	_, err := guard.Claim(ctx, "", time.Minute)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	require.NoError(t, client.Health(ctx))

	srv.Close()
	_, err = guard.Claim(ctx, "evt-down", time.Minute)
	assert.Error(t, err)
	assert.Error(t, client.Health(ctx))
}
