// Package retry implements the exponential-backoff executor shared by every
// stage that calls out to the tracker, the AI execution service, or version
// control.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// nonRetryableSubstrings: an error is non-retryable if its message names
// one of these conditions.
var nonRetryableSubstrings = []string{
	"rate limit",
	"quota exceeded",
	"authentication",
	"not found",
	"permission denied",
}

// NonRetryable wraps err so IsNonRetryable reports true regardless of its
// message, for callers that already know an error must not be retried.
type NonRetryable struct{ Err error }

func (n *NonRetryable) Error() string { return n.Err.Error() }
func (n *NonRetryable) Unwrap() error { return n.Err }

// IsNonRetryable reports whether err should short-circuit retrying.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var marked *NonRetryable
	if errors.As(err, &marked) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, needle := range nonRetryableSubstrings {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// Policy configures the executor.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// Delay returns the sleep before attempt k (k >= 2); attempt 1 has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	factor := math.Pow(p.BackoffMultiplier, float64(attempt-2))
	return time.Duration(float64(p.InitialDelay) * factor)
}

// Thunk is the operation the executor retries.
type Thunk func(ctx context.Context, attempt int) (any, error)

// Do runs thunk up to policy.MaxAttempts times, sleeping Policy.Delay between
// attempts, and stops immediately on a non-retryable error. Exhaustion wraps
// the last error.
func Do(ctx context.Context, policy Policy, thunk Thunk) (any, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.Delay(attempt)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := thunk(ctx, attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("retry exhausted after %d attempts: %w", policy.MaxAttempts, lastErr)
}
