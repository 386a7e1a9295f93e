package resilience

import (
	"context"
	"time"
)

// RetryEvent describes a retry that is about to be waited out.
type RetryEvent struct {
	// Attempt is the one-based number of the attempt that failed.
	Attempt         int
	MaxAttempts     int
	Err             error
	Delay           time.Duration
	BudgetRemaining float64
}

// BudgetExhaustedEvent describes a retry refused by the token bucket.
type BudgetExhaustedEvent struct {
	// Attempt is the one-based number of the attempt that failed.
	Attempt         int
	MaxAttempts     int
	Err             error
	BudgetRemaining float64
	BudgetMax       int
}

// EventSink receives retry notifications. Sinks observe only: a panicking
// sink is recovered and the Execute call carries on.
//
// Contract:
// - Concurrency: sinks are called from concurrent Execute calls.
// - Context: ctx is the Execute context and carries its span, if any.
type EventSink interface {
	OnRetry(ctx context.Context, ev RetryEvent)
	OnBudgetExhausted(ctx context.Context, ev BudgetExhaustedEvent)
}

// EventSinkFuncs adapts plain functions to an EventSink. Nil fields are
// skipped.
type EventSinkFuncs struct {
	Retry           func(ev RetryEvent)
	BudgetExhausted func(ev BudgetExhaustedEvent)
}

// OnRetry calls Retry if set.
func (f EventSinkFuncs) OnRetry(_ context.Context, ev RetryEvent) {
	if f.Retry != nil {
		f.Retry(ev)
	}
}

// OnBudgetExhausted calls BudgetExhausted if set.
func (f EventSinkFuncs) OnBudgetExhausted(_ context.Context, ev BudgetExhaustedEvent) {
	if f.BudgetExhausted != nil {
		f.BudgetExhausted(ev)
	}
}

// multiSink fans events out to several sinks.
type multiSink []EventSink

func (m multiSink) OnRetry(ctx context.Context, ev RetryEvent) {
	for _, s := range m {
		safeNotify(func() { s.OnRetry(ctx, ev) })
	}
}

func (m multiSink) OnBudgetExhausted(ctx context.Context, ev BudgetExhaustedEvent) {
	for _, s := range m {
		safeNotify(func() { s.OnBudgetExhausted(ctx, ev) })
	}
}

func safeNotify(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
