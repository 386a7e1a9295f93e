package resilience

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrMaxRetriesExceeded is matched by a RetriesExhaustedError whose
	// attempts ran out while the budget still allowed retries.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrBudgetExhausted is matched by a RetriesExhaustedError whose retry
	// was denied by the shared token bucket.
	ErrBudgetExhausted = errors.New("resilience: retry budget exhausted")

	// ErrCanceled is returned when the caller's context ends an Execute call.
	ErrCanceled = errors.New("resilience: execution canceled")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrAttemptTimeout is returned when a single attempt exceeds its timeout.
	ErrAttemptTimeout = errors.New("resilience: attempt timed out")

	// ErrNilCall is returned when Execute is given a nil call function.
	ErrNilCall = errors.New("resilience: call function is nil")

	// ErrBucketClosed is returned by Close when called on a nil bucket.
	ErrBucketClosed = errors.New("resilience: token bucket is closed")
)

// AttemptRecord describes one failed attempt inside an Execute call.
type AttemptRecord struct {
	// Attempt is the zero-based attempt index.
	Attempt int

	// Err is the error returned by the call.
	Err error

	// Latency is how long the call took.
	Latency time.Duration

	// Delay is the backoff computed after this attempt, whether or not it
	// was waited out.
	Delay time.Duration
}

// RetriesExhaustedError is returned when Execute gives up on a transiently
// failing call, either because attempts ran out or because the retry budget
// refused another retry.
type RetriesExhaustedError struct {
	Attempts        []AttemptRecord
	TotalLatency    time.Duration
	BudgetExhausted bool
}

func (e *RetriesExhaustedError) Error() string {
	reason := "max attempts reached"
	if e.BudgetExhausted {
		reason = "budget exhausted"
	}

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("attempt %d: %v (%.1fms)",
			a.Attempt, a.Err, float64(a.Latency.Microseconds())/1000))
	}

	return fmt.Sprintf("resilience: all retries exhausted (%s): %s", reason, strings.Join(parts, "; "))
}

// Is reports whether target is the sentinel matching the exhaustion cause.
func (e *RetriesExhaustedError) Is(target error) bool {
	if e.BudgetExhausted {
		return target == ErrBudgetExhausted
	}
	return target == ErrMaxRetriesExceeded
}

// Unwrap returns the error of the last recorded attempt.
func (e *RetriesExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// LastError returns the error of the last recorded attempt, or nil.
func (e *RetriesExhaustedError) LastError() error {
	return e.Unwrap()
}

func canceledError(cause error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}
