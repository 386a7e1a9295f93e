package resilience

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// JitterMode selects how a computed backoff delay is randomized.
type JitterMode string

const (
	// JitterFull picks a uniform delay in [0, delay). It spreads independent
	// callers the widest and is the default.
	JitterFull JitterMode = "full"
	// JitterEqual waits delay/2 plus a uniform value in [0, delay/2).
	JitterEqual JitterMode = "equal"
	// JitterNone returns the capped delay unchanged.
	JitterNone JitterMode = "none"
)

// ParseJitterMode parses a jitter mode name. The empty string selects
// JitterFull.
func ParseJitterMode(s string) (JitterMode, error) {
	switch JitterMode(s) {
	case "", JitterFull:
		return JitterFull, nil
	case JitterEqual:
		return JitterEqual, nil
	case JitterNone:
		return JitterNone, nil
	default:
		return "", fmt.Errorf("resilience: unknown jitter mode %q", s)
	}
}

// BackoffPolicy computes exponential backoff delays with jitter.
type BackoffPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       JitterMode

	// random returns a value in [0, 1). Tests replace it.
	random func() float64
}

// Delay returns the delay to wait after the given zero-based attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	random := p.random
	if random == nil {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		random = rand.Float64
	}

	capped := cappedExponential(attempt, p.InitialDelay, p.MaxDelay, p.Multiplier)

	switch p.Jitter {
	case JitterNone:
		return capped
	case JitterEqual:
		half := float64(capped) / 2
		return time.Duration(half + random()*half)
	default:
		// JitterFull, and any unknown mode.
		return time.Duration(random() * float64(capped))
	}
}

// ComputeBackoff returns the delay for attempt under the given parameters.
func ComputeBackoff(attempt int, initialDelay, maxDelay time.Duration, multiplier float64, jitter JitterMode) time.Duration {
	return BackoffPolicy{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		Jitter:       jitter,
	}.Delay(attempt)
}

func cappedExponential(attempt int, initial, maxDelay time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if initial <= 0 {
		return 0
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt))

	// NaN and +Inf both fail the comparison and saturate to maxDelay.
	if !(delay < float64(maxDelay)) {
		return maxDelay
	}
	return time.Duration(delay)
}
