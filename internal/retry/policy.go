// Package retry holds the fixed-delay retry policy shared by the image
// fetcher and the delivery handoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FixedPolicy retries up to MaxRetries times, waiting Delay between attempts.
type FixedPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// ShouldRetry decides whether another attempt is allowed after attempt
// (zero-based) failed with err. Context errors are never retried.
func (p FixedPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait before the next attempt.
func (p FixedPolicy) Backoff(int) time.Duration {
	return p.Delay
}

// Sleep pauses for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
