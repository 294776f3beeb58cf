package testsupport

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewMiniRedis starts an in-process redis server and a client bound to it.
// Both are closed on cleanup.
func NewMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("failed to ping miniredis: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}
