package agent

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy governs how transient agent failures are retried. The
// default of one attempt means a failure is surfaced immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff is the pause between attempts.
	Backoff time.Duration
}

// DefaultRetryPolicy performs a single attempt with no retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Do runs fn up to MaxAttempts times, sleeping Backoff between
// attempts. The last error is returned when all attempts fail. Context
// cancellation stops retrying immediately and is never retried.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		if attempt < attempts && p.Backoff > 0 {
			select {
			case <-time.After(p.Backoff):
			case <-ctx.Done():
				return lastErr
			}
		}
	}

	if attempts > 1 {
		return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
	return lastErr
}
