package testsupport

import (
	"context"
	"testing"
	"time"
)

func TestMiniRedisExpiresKeys(t *testing.T) {
	srv, client := NewMiniRedis(t)
	ctx := context.Background()

	if err := client.Set(ctx, "usage:event:1", "1", time.Minute).Err(); err != nil {
		t.Fatalf("failed to set key: %v", err)
	}
	if !srv.Exists("usage:event:1") {
		t.Fatal("expected key to exist")
	}

	srv.FastForward(2 * time.Minute)

	if srv.Exists("usage:event:1") {
		t.Fatal("expected key to expire")
	}
}
