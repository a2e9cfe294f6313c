// Package retry provides bounded retry with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/rosterhq/roster/errors"
)

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	Multiplier  float64       // growth factor per attempt, doubles if zero
	MaxDelay    time.Duration // backoff cap, uncapped if zero
}

// Delay returns the wait before the given retry (attempt is 1-based and
// counts completed attempts so far).
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It stops
// early on success, on a permanent error, or when the context is cancelled.
// The last error is returned when all attempts fail.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
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
		if errors.IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
