// Package retry provides a bounded retry policy with exponential backoff,
// parameterized over any fallible operation.
package retry

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Retry Policy
// =============================================================================

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPushPolicy is the policy used for image pushes: 4 attempts,
// 3s base delay, doubling between attempts.
var DefaultPushPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   3 * time.Second,
	Multiplier:  2,
}

// Do runs op until it succeeds or the attempt budget is exhausted. The
// attempt number passed to op starts at 1. Between attempts Do sleeps the
// current delay, honoring ctx cancellation; the delay grows by Multiplier
// after every failed attempt.
//
// The returned error is the last error from op, or ctx.Err() when the
// context ends first.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if p.Multiplier > 0 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
