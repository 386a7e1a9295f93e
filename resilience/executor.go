package resilience

import (
	"context"
	"time"
)

// Option configures a Retry handler.
type Option func(*options)

type options struct {
	budget         *TokenBucket
	sinks          []EventSink
	bulkhead       *Bulkhead
	attemptTimeout time.Duration
}

// pipeline holds the per-attempt wrappers applied around a call.
type pipeline struct {
	bulkhead       *Bulkhead
	attemptTimeout time.Duration
}

func (o *options) pipeline() pipeline {
	return pipeline{
		bulkhead:       o.bulkhead,
		attemptTimeout: o.attemptTimeout,
	}
}

// WithBudget makes the handler draw on a bucket shared with other handlers.
// The handler does not close a shared bucket.
func WithBudget(b *TokenBucket) Option {
	return func(o *options) {
		o.budget = b
	}
}

// WithEventSink adds an event sink to the handler.
func WithEventSink(s EventSink) Option {
	return func(o *options) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithBulkhead limits concurrent in-flight attempts through the handler.
func WithBulkhead(b *Bulkhead) Option {
	return func(o *options) {
		o.bulkhead = b
	}
}

// WithTimeout bounds every single attempt. Backoff waits are not included.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.attemptTimeout = timeout
	}
}

// wrapCall applies the per-attempt wrappers to call.
//
// The order is:
// 1. Bulkhead (if configured) - limits concurrency
// 2. Timeout (if configured) - limits attempt time
func wrapCall[Req, Resp any](p pipeline, call CallFunc[Req, Resp]) CallFunc[Req, Resp] {
	execute := call

	// Wrap with timeout (innermost)
	if p.attemptTimeout > 0 {
		execute = WithAttemptTimeout(p.attemptTimeout, execute)
	}

	// Wrap with bulkhead (outermost)
	if p.bulkhead != nil {
		inner := execute
		bulkhead := p.bulkhead
		execute = func(ctx context.Context, req Req) (Resp, error) {
			if err := bulkhead.Acquire(ctx); err != nil {
				var zero Resp
				return zero, err
			}
			defer bulkhead.Release()
			return inner(ctx, req)
		}
	}

	return execute
}
