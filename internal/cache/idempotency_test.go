package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*ReplayCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewReplayCache(client, time.Minute), server
}

func TestReplayCacheRoundTrip(t *testing.T) {
	c, server := newTestCache(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "user-1", "req-1"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Put(ctx, "user-1", "req-1", []byte(`{"success":true}`))

	body, ok := c.Get(ctx, "user-1", "req-1")
	if !ok || string(body) != `{"success":true}` {
		t.Fatalf("unexpected cache entry %q (hit=%v)", body, ok)
	}
	if _, ok := c.Get(ctx, "user-2", "req-1"); ok {
		t.Fatalf("entries must be scoped per user")
	}

	server.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, "user-1", "req-1"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestReplayCacheNilSafe(t *testing.T) {
	var c *ReplayCache
	c.Put(context.Background(), "user-1", "req-1", []byte("x"))
	if _, ok := c.Get(context.Background(), "user-1", "req-1"); ok {
		t.Fatalf("nil cache should always miss")
	}
}
