package httpclient

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy controls retry pacing: exponential growth from BaseDelay by
// Factor per attempt, with symmetric jitter of ±Jitter (fraction of the
// computed delay). MaxAttempts counts the first try.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts int
}

// DefaultBackoff is 200ms base, doubling, ±20% jitter, 3 attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   200 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
		MaxAttempts: 3,
	}
}

// Delay returns the pause before the attempt following `attempt` (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64())
}

// DelayWithRand computes the delay from an externally supplied random value
// in [0,1), which keeps tests deterministic.
func (p BackoffPolicy) DelayWithRand(attempt int, random float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if p.Jitter > 0 {
		// random in [0,1) → spread in [-Jitter, +Jitter)
		spread := (random*2 - 1) * p.Jitter
		base *= 1 + spread
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}
