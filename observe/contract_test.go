package observe

import (
	"context"
	"testing"
	"time"

	"github.com/jonwraymond/retrybudget/resilience"
)

func TestLoggerContract_WithCall(t *testing.T) {
	logger := &noopLogger{}
	if logger.WithCall(CallMeta{Operation: "noop"}) == nil {
		t.Fatalf("WithCall should return non-nil logger")
	}
}

func TestMetricsContract_NoPanic(t *testing.T) {
	metrics := &noopMetrics{}
	ctx := context.Background()
	metrics.RecordExecution(ctx, CallMeta{Operation: "noop"}, 1, 10*time.Millisecond, nil)
	metrics.RecordRetry(ctx, CallMeta{Operation: "noop"}, time.Millisecond)
	metrics.RecordBudgetExhausted(ctx, CallMeta{Operation: "noop"})
}

func TestTracerContract_NoPanic(t *testing.T) {
	tracer := newNoopTracer()
	_, span := tracer.StartSpan(context.Background(), CallMeta{Operation: "noop"})
	tracer.EndSpan(span, 1, nil)
}

func TestSinkContract_NoSpanInContext(t *testing.T) {
	s := NewSink(NewMiddleware(nil, nil, nil), CallMeta{Operation: "noop"})
	s.OnRetry(context.Background(), resilience.RetryEvent{Attempt: 1})
	s.OnBudgetExhausted(context.Background(), resilience.BudgetExhaustedEvent{Attempt: 1})
}
