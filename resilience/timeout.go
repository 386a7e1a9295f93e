package resilience

import (
	"context"
	"errors"
	"time"
)

// WithAttemptTimeout wraps call so that each invocation is bounded by
// timeout. An attempt that runs out of time fails with ErrAttemptTimeout,
// which the classifier treats as transient. Cancellation of the parent
// context is reported as the parent's error.
func WithAttemptTimeout[Req, Resp any](timeout time.Duration, call CallFunc[Req, Resp]) CallFunc[Req, Resp] {
	if timeout <= 0 {
		return call
	}

	type result struct {
		resp Resp
		err  error
	}

	return func(ctx context.Context, req Req) (Resp, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan result, 1)
		go func() {
			resp, err := call(attemptCtx, req)
			done <- result{resp: resp, err: err}
		}()

		var zero Resp
		select {
		case res := <-done:
			if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return zero, errors.Join(ErrAttemptTimeout, res.err)
			}
			return res.resp, res.err
		case <-attemptCtx.Done():
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			return zero, ErrAttemptTimeout
		}
	}
}
