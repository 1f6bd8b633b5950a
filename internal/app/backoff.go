package app

import (
	"context"
	"math/rand"
	"time"
)

// BackoffFunc maps a zero-based retry attempt to the delay before it runs.
// Kept as a standalone function so tests can inject a zero-delay policy.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles the base delay on every attempt
func ExponentialBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base * (1 << uint(attempt))
	}
}

// ExponentialBackoffWithJitter adds up to jitter of random delay on top of
// the exponential schedule, spreading out retry storms between contending
// writers.
func ExponentialBackoffWithJitter(base, jitter time.Duration) BackoffFunc {
	exp := ExponentialBackoff(base)
	return func(attempt int) time.Duration {
		d := exp(attempt)
		if jitter > 0 {
			d += time.Duration(rand.Int63n(int64(jitter)))
		}
		return d
	}
}

// NoBackoff retries immediately; used in tests
func NoBackoff() BackoffFunc {
	return func(int) time.Duration { return 0 }
}

// sleep waits for d or until the context is cancelled
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
