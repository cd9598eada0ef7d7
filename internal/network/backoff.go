package network

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// BackoffDelay returns the sleep before retrying after the count-th
// consecutive 429: linear in count and capped at maxCount steps.
func BackoffDelay(count, maxCount int, step time.Duration) time.Duration {
	if count < 1 {
		return 0
	}
	if count > maxCount {
		count = maxCount
	}
	return time.Duration(count) * step
}

// rateLimiter counts consecutive 429s across all requests of a service.
type rateLimiter struct {
	step     time.Duration
	maxCount int
	sleep    func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	count int
}

func newRateLimiter(step time.Duration, maxCount int) *rateLimiter {
	return &rateLimiter{step: step, maxCount: maxCount, sleep: sleepContext}
}

// observe records a response status. For a 429 it returns the delay to wait
// before retrying; any other status resets the streak.
func (r *rateLimiter) observe(status int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status != http.StatusTooManyRequests {
		r.count = 0
		return 0
	}
	r.count++
	return BackoffDelay(r.count, r.maxCount, r.step)
}

func (r *rateLimiter) reset() {
	r.mu.Lock()
	r.count = 0
	r.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
