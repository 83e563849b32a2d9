package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayCache keeps recently completed translate responses so retried request
// ids can be answered without touching the ledger.
type ReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReplayCache(client *redis.Client, ttl time.Duration) *ReplayCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ReplayCache{client: client, ttl: ttl}
}

// Get returns the stored body for userID's requestID.
func (c *ReplayCache) Get(ctx context.Context, userID, requestID string) ([]byte, bool) {
	if c == nil || c.client == nil || requestID == "" {
		return nil, false
	}
	data, err := c.client.Get(ctx, key(userID, requestID)).Bytes()
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// Put stores body. Failures are ignored; the ledger remains authoritative.
func (c *ReplayCache) Put(ctx context.Context, userID, requestID string, body []byte) {
	if c == nil || c.client == nil || requestID == "" || len(body) == 0 {
		return
	}
	c.client.Set(ctx, key(userID, requestID), body, c.ttl)
}

func key(userID, requestID string) string {
	return "idem:" + userID + ":" + requestID
}
