package failover

import (
	"context"
	"time"
)

// Strategy names a backoff curve for the delay between retry attempts.
type Strategy string

const (
	BackoffExponential Strategy = "exponential"
	BackoffLinear      Strategy = "linear"
	BackoffConstant    Strategy = "constant"
)

// Default delay bounds. BackoffBase is the first exponential delay;
// MaxBackoff caps every curve.
const (
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultMaxBackoff  = 5 * time.Second
)

// Delay computes the sleep before retrying after the given zero-based
// attempt. Exponential doubles per attempt, linear grows by base per
// attempt, constant stays at base. Every curve is capped at max.
// Unknown strategies fall back to exponential.
func Delay(strategy Strategy, attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if attempt < 0 {
		attempt = 0
	}

	var d time.Duration
	switch strategy {
	case BackoffConstant:
		d = base
	case BackoffLinear:
		d = base * time.Duration(attempt)
	default:
		// Shift overflows past ~62 doublings; far beyond that the cap
		// applies anyway.
		if attempt >= 62 {
			return max
		}
		d = base * time.Duration(int64(1)<<uint(attempt))
	}

	if d > max || d < 0 {
		return max
	}
	return d
}

// sleepWithContext waits d or until ctx is cancelled, whichever comes
// first. Returns the context error on cancellation.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
