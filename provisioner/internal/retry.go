package internal

import (
	"context"
	"time"
)

// BaseDelay is the wait before the second attempt. Each further attempt doubles it, up to MaxDelay.
var BaseDelay = 500 * time.Millisecond

// MaxDelay caps the wait between two attempts.
var MaxDelay = 30 * time.Second

func backoff(attempt int) time.Duration {
	delay := BaseDelay << attempt
	if delay <= 0 || delay > MaxDelay {
		return MaxDelay
	}
	return delay
}

// Retry calls fn up to maxAttempts times with exponential backoff.
// Returns the last error if all attempts fail.
func Retry(maxAttempts int, fn func() error) error {
	return RetryWithContext(context.Background(), maxAttempts, fn)
}

// RetryWithContext is like Retry but respects context cancellation.
// Returns ctx.Err() if the context is cancelled before all attempts are exhausted.
func RetryWithContext(ctx context.Context, maxAttempts int, fn func() error) error {
	_, err := RetryResultWithContext(ctx, maxAttempts, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryResultWithContext is like RetryWithContext but for functions that return a value.
func RetryResultWithContext[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < maxAttempts; i++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		if i < maxAttempts-1 {
			timer := time.NewTimer(backoff(i))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			}
		}
	}
	return result, err
}
