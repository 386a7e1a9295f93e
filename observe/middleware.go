package observe

import (
	"context"
	"errors"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/retrybudget/resilience"
)

// ExecuteFunc is the signature of resilience.Retry.Execute.
type ExecuteFunc[Req, Resp any] func(ctx context.Context, req Req, call resilience.CallFunc[Req, Resp]) (*resilience.RetryResult[Resp], error)

// Middleware instruments retry handlers with observability (tracing,
// metrics, logging).
//
// Contract:
//   - Concurrency: Wrap returns a thread-safe ExecuteFunc and NewSink a
//     thread-safe sink.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
	clock   quartz.Clock
}

// NewMiddleware creates a new Middleware with the given observability
// components. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = &noopMetrics{}
	}
	if logger == nil {
		logger = &noopLogger{}
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
		clock:   quartz.NewReal(),
	}
}

// WithClock returns a copy of m that times calls with clock. Use the clock
// the wrapped handler runs on so recorded durations match
// RetryResult.TotalLatency.
func (m *Middleware) WithClock(clock quartz.Clock) *Middleware {
	c := *m
	if clock != nil {
		c.clock = clock
	}
	return &c
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(newTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Wrap wraps a retry handler's Execute with a span, metrics and a log line
// per call. Retry events reported by a sink from NewSink are attached to the
// same span.
func Wrap[Req, Resp any](m *Middleware, meta CallMeta, execute ExecuteFunc[Req, Resp]) ExecuteFunc[Req, Resp] {
	return func(ctx context.Context, req Req, call resilience.CallFunc[Req, Resp]) (*resilience.RetryResult[Resp], error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)

		start := m.clock.Now()
		res, err := execute(ctx, req, call)
		duration := m.clock.Since(start)

		attempts := attemptsOf(res, err)
		m.tracer.EndSpan(span, attempts, err)
		m.metrics.RecordExecution(ctx, meta, attempts, duration, err)

		fields := []Field{
			{Key: "duration_ms", Value: float64(duration.Milliseconds())},
			{Key: "outcome", Value: string(OutcomeOf(err))},
		}
		if attempts > 0 {
			fields = append(fields, Field{Key: "attempts", Value: attempts})
		}

		logger := m.logger.WithCall(meta)
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			logger.Error(ctx, "call failed", fields...)
		} else {
			fields = append(fields, Field{Key: "budget_remaining", Value: res.BudgetRemaining})
			logger.Info(ctx, "call completed", fields...)
		}

		return res, err
	}
}

// attemptsOf returns the number of attempts made, or zero when the error
// does not carry it.
func attemptsOf[Resp any](res *resilience.RetryResult[Resp], err error) int {
	if err == nil && res != nil {
		return res.Attempts
	}
	var exhausted *resilience.RetriesExhaustedError
	if errors.As(err, &exhausted) {
		return len(exhausted.Attempts)
	}
	return 0
}

// NewSink returns an event sink that logs, meters and records span events
// for retries and budget refusals of the call described by meta.
func NewSink(m *Middleware, meta CallMeta) resilience.EventSink {
	return &sink{
		meta:    meta,
		metrics: m.metrics,
		logger:  m.logger.WithCall(meta),
	}
}

type sink struct {
	meta    CallMeta
	metrics Metrics
	logger  Logger
}

func (s *sink) OnRetry(ctx context.Context, ev resilience.RetryEvent) {
	s.metrics.RecordRetry(ctx, s.meta, ev.Delay)

	trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
		attribute.Int("retry.attempt", ev.Attempt),
		attribute.Int("retry.max_attempts", ev.MaxAttempts),
		attribute.Int64("retry.delay_ms", ev.Delay.Milliseconds()),
		attribute.Float64("retry.budget_remaining", ev.BudgetRemaining),
	))

	s.logger.Warn(ctx, "retrying call",
		Field{Key: "attempt", Value: ev.Attempt},
		Field{Key: "max_attempts", Value: ev.MaxAttempts},
		Field{Key: "delay_ms", Value: ev.Delay.Milliseconds()},
		Field{Key: "budget_remaining", Value: ev.BudgetRemaining},
		Field{Key: "error", Value: errorString(ev.Err)},
	)
}

func (s *sink) OnBudgetExhausted(ctx context.Context, ev resilience.BudgetExhaustedEvent) {
	s.metrics.RecordBudgetExhausted(ctx, s.meta)

	trace.SpanFromContext(ctx).AddEvent("budget_exhausted", trace.WithAttributes(
		attribute.Int("retry.attempt", ev.Attempt),
		attribute.Float64("retry.budget_remaining", ev.BudgetRemaining),
		attribute.Int("retry.budget_max", ev.BudgetMax),
	))

	s.logger.Error(ctx, "retry budget exhausted",
		Field{Key: "attempt", Value: ev.Attempt},
		Field{Key: "max_attempts", Value: ev.MaxAttempts},
		Field{Key: "budget_remaining", Value: ev.BudgetRemaining},
		Field{Key: "budget_max", Value: ev.BudgetMax},
		Field{Key: "error", Value: errorString(ev.Err)},
	)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
