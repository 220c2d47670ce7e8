package utils

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy is applied uniformly to every fetch attempt: a bounded
// attempt count, exponential backoff with jitter, and a classifier that
// decides which errors are worth another attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter scales each delay by a random factor in [1-Jitter, 1+Jitter].
	Jitter   float64
	Classify func(error) bool
	Logger   *Logger

	// Sleep is swapped out by tests.
	Sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// Backoff returns the delay before the attempt following attempt n (1-based).
func (r *RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := r.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if r.MaxDelay > 0 && delay >= r.MaxDelay {
			delay = r.MaxDelay
			break
		}
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	if r.Jitter <= 0 || delay <= 0 {
		return delay
	}

	r.mu.Lock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	f := 1 + (r.rng.Float64()*2-1)*r.Jitter
	r.mu.Unlock()

	return time.Duration(float64(delay) * f)
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// attempt budget is spent, or ctx is done. It returns the number of
// attempts made.
func (r *RetryPolicy) Do(ctx context.Context, operationName string, fn func(attempt int) error) (int, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if r.Classify != nil && !r.Classify(lastErr) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := r.Backoff(attempt)
		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt, maxAttempts, lastErr, delay.Round(time.Millisecond))
		}
		if err := r.sleep(ctx, delay); err != nil {
			return attempt, fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt, lastErr)
		}
	}

	return maxAttempts, fmt.Errorf("%s failed after %d attempts: %w", operationName, maxAttempts, lastErr)
}

func (r *RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
