package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// LimitConfig bounds how often and how concurrently one user may translate.
type LimitConfig struct {
	RequestsPerMinute int
	ParallelRequests  int
}

// RateLimiter enforces per-user limits in Redis. A nil limiter or client
// allows everything.
type RateLimiter struct {
	client *redis.Client
	limits LimitConfig
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, limits LimitConfig) *RateLimiter {
	return &RateLimiter{client: client, limits: limits, now: time.Now}
}

// Acquire admits one request for userID. The returned release must be called
// once the request finishes.
func (l *RateLimiter) Acquire(ctx context.Context, userID string) (func(), error) {
	noop := func() {}
	if l == nil || l.client == nil {
		return noop, nil
	}
	if l.limits.RequestsPerMinute > 0 {
		if err := l.countCheck(ctx, "rpm:"+userID, time.Minute, l.limits.RequestsPerMinute); err != nil {
			return noop, err
		}
	}
	if l.limits.ParallelRequests <= 0 {
		return noop, nil
	}
	key := "sem:" + userID
	if err := l.semaphoreAcquire(ctx, key, l.limits.ParallelRequests); err != nil {
		return noop, err
	}
	return func() {
		// The request context may already be gone.
		l.client.Decr(context.WithoutCancel(ctx), key)
	}, nil
}

func (l *RateLimiter) windowKey(key string, window time.Duration) string {
	bucket := l.now().UTC().Unix() / int64(window.Seconds())
	return fmt.Sprintf("%s:%d", key, bucket)
}

func (l *RateLimiter) countCheck(ctx context.Context, key string, window time.Duration, limit int) error {
	redisKey := l.windowKey(key, window)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, window)
	}
	if int(cnt) > limit {
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int) error {
	// Leaked slots from crashed requests expire with the key.
	const ttl = 5 * time.Minute
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	l.client.Expire(ctx, key, ttl)
	if int(cnt) > max {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}
