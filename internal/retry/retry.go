// Package retry implements bounded exponential backoff for transient
// failures: git network trouble and scratch-org provisioning hiccups.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds an attempt loop.
type Policy struct {
	// MaxAttempts is the total number of tries, not the number of retries.
	MaxAttempts int
	// InitialDelay is the sleep before the second attempt.
	InitialDelay time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor float64
}

// DefaultPolicy matches the engine-wide retry contract: three attempts,
// two seconds, doubling.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: 2 * time.Second, Factor: 2}
}

// Do runs fn until it succeeds, the attempts run out, or ctx is done.
// A permanent error (per isPermanent) stops the loop immediately. The last
// error is returned when all attempts fail.
func Do(ctx context.Context, p Policy, isPermanent func(error) bool, fn func(attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if isPermanent != nil && isPermanent(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Factor)
	}
	return fmt.Errorf("all %d attempts failed: %w", p.MaxAttempts, lastErr)
}
