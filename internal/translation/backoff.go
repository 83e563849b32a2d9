package translation

import (
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// LinearBackoff waits attempt*base before each retry, capped at max.
func LinearBackoff(base, max time.Duration) retry.Backoff {
	if base <= 0 {
		base = time.Second
	}
	var (
		mu      sync.Mutex
		attempt int64
	)
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		mu.Lock()
		defer mu.Unlock()
		attempt++
		return time.Duration(attempt) * base, false
	})
	if max > 0 {
		return retry.WithCappedDuration(max, linear)
	}
	return linear
}

// observed reports every delay the wrapped backoff hands out.
func observed(next retry.Backoff, fn func(attempt int, delay time.Duration)) retry.Backoff {
	if fn == nil {
		return next
	}
	var attempt int
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := next.Next()
		if stop {
			return 0, true
		}
		attempt++
		fn(attempt, delay)
		return delay, false
	})
}

func retryPolicy(maxAttempts int, base, max time.Duration, observer func(int, time.Duration)) retry.Backoff {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return observed(retry.WithMaxRetries(uint64(maxAttempts-1), LinearBackoff(base, max)), observer)
}
