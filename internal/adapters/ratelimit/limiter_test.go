package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/pkg/errors"
)

func TestLimiter_Burst(t *testing.T) {
	l := NewLimiter("ingest", 1, 3)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst exhausted")
	assert.Equal(t, "ingest", l.Name())
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	l := NewLimiter("slow", 0.001, 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
}

func TestLimiter_ZeroBurstRaised(t *testing.T) {
	l := NewLimiter("tiny", 10, 0)
	assert.True(t, l.Allow())
}

func TestUnlimited(t *testing.T) {
	l := Unlimited("free")
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}
