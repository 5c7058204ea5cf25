// Package backoff provides the exponential reconnection-delay strategy with
// bounded uniform jitter used by the MCP connection managers.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy defines the parameters for exponential backoff calculation.
// The delay for attempt n is min(base * 2^(n-1) * jitter, ceiling), with
// jitter drawn uniformly from [JitterLow, JitterHigh].
type Strategy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Ceiling bounds the computed delay.
	Ceiling time.Duration
	// JitterLow and JitterHigh bound the uniform jitter multiplier.
	JitterLow  float64
	JitterHigh float64
	// MaxAttempts is the number of retries permitted before giving up.
	MaxAttempts int
}

// Default returns the strategy used when configuration is silent:
// base 1s, ceiling 60s, jitter in [0.8, 1.2], 10 attempts.
func Default() Strategy {
	return Strategy{
		Base:        time.Second,
		Ceiling:     60 * time.Second,
		JitterLow:   0.8,
		JitterHigh:  1.2,
		MaxAttempts: 10,
	}
}

// Delay calculates the wait before the given attempt. Attempt numbers
// start at 1.
func (s Strategy) Delay(attempt int) time.Duration {
	return s.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand calculates the wait using a provided random value in
// [0.0, 1.0). Injecting the random value keeps tests deterministic.
func (s Strategy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(s.Base) * math.Pow(2, exp)

	jitter := 1.0
	if s.JitterHigh > s.JitterLow {
		jitter = s.JitterLow + (s.JitterHigh-s.JitterLow)*randomValue
	} else if s.JitterLow > 0 {
		jitter = s.JitterLow
	}

	total := math.Min(float64(s.Ceiling), base*jitter)
	return time.Duration(math.Round(total/float64(time.Millisecond))) * time.Millisecond
}

// ShouldRetry reports whether the given attempt number is permitted.
func (s Strategy) ShouldRetry(attempt int) bool {
	return attempt <= s.MaxAttempts
}
