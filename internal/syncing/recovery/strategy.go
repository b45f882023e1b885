package recovery

import (
	"math"
	"time"
)

// Backoff computes exponential retry delays: BaseDelay * Multiplier^attempt,
// capped at MaxDelay, for at most MaxAttempts attempts.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoff returns the standard policy: 1s, 2s, 4s, 8s, 16s.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 5,
	}
}

// Delay returns the delay before the given attempt (0-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Exhausted reports whether the attempt count has passed the ceiling.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
