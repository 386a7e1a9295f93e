package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/retrybudget/resilience"
)

// Outcome classifies how an Execute ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeFatal             Outcome = "fatal"
	OutcomeAttemptsExhausted Outcome = "attempts_exhausted"
	OutcomeBudgetExhausted   Outcome = "budget_exhausted"
	OutcomeCanceled          Outcome = "canceled"
	OutcomeRejected          Outcome = "rejected"
)

// OutcomeOf maps an Execute error to its outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, resilience.ErrCanceled):
		return OutcomeCanceled
	case errors.Is(err, resilience.ErrBudgetExhausted):
		return OutcomeBudgetExhausted
	case errors.Is(err, resilience.ErrMaxRetriesExceeded):
		return OutcomeAttemptsExhausted
	case errors.Is(err, resilience.ErrBulkheadFull):
		return OutcomeRejected
	default:
		return OutcomeFatal
	}
}

// Metrics records retry handler metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records one Execute with its outcome, attempt count
	// and duration. Attempts of zero means unknown.
	RecordExecution(ctx context.Context, meta CallMeta, attempts int, duration time.Duration, err error)

	// RecordRetry records a granted retry and its backoff delay.
	RecordRetry(ctx context.Context, meta CallMeta, delay time.Duration)

	// RecordBudgetExhausted records a retry refused by the budget.
	RecordBudgetExhausted(ctx context.Context, meta CallMeta)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter          metric.Meter
	totalCount     metric.Int64Counter
	retryCount     metric.Int64Counter
	exhaustedCount metric.Int64Counter
	delayHist      metric.Float64Histogram
	attemptsHist   metric.Int64Histogram
	durationHist   metric.Float64Histogram
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"retry.execute.total",
		metric.WithDescription("Total number of guarded calls by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"retry.retries.total",
		metric.WithDescription("Total number of retries granted by the budget"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	exhaustedCount, err := meter.Int64Counter(
		"retry.budget.exhausted",
		metric.WithDescription("Total number of retries refused by the budget"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	delayHist, err := meter.Float64Histogram(
		"retry.backoff.delay_ms",
		metric.WithDescription("Backoff delay before a retry in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	attemptsHist, err := meter.Int64Histogram(
		"retry.attempts",
		metric.WithDescription("Attempts made per guarded call"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"retry.execute.duration_ms",
		metric.WithDescription("Guarded call duration including backoff in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:          meter,
		totalCount:     totalCount,
		retryCount:     retryCount,
		exhaustedCount: exhaustedCount,
		delayHist:      delayHist,
		attemptsHist:   attemptsHist,
		durationHist:   durationHist,
	}, nil
}

func callAttributes(meta CallMeta) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("call.id", meta.CallID()),
	}
	if meta.Provider != "" {
		attrs = append(attrs, attribute.String("call.provider", meta.Provider))
	}
	return attrs
}

// RecordExecution records metrics for one Execute.
func (m *metricsImpl) RecordExecution(ctx context.Context, meta CallMeta, attempts int, duration time.Duration, err error) {
	attrs := callAttributes(meta)
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, metric.WithAttributes(
		append(attrs, attribute.String("outcome", string(OutcomeOf(err))))...,
	))

	if attempts > 0 {
		m.attemptsHist.Record(ctx, int64(attempts), opt)
	}

	m.durationHist.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
}

// RecordRetry records a granted retry.
func (m *metricsImpl) RecordRetry(ctx context.Context, meta CallMeta, delay time.Duration) {
	opt := metric.WithAttributes(callAttributes(meta)...)
	m.retryCount.Add(ctx, 1, opt)
	m.delayHist.Record(ctx, float64(delay)/float64(time.Millisecond), opt)
}

// RecordBudgetExhausted records a refused retry.
func (m *metricsImpl) RecordBudgetExhausted(ctx context.Context, meta CallMeta) {
	m.exhaustedCount.Add(ctx, 1, metric.WithAttributes(callAttributes(meta)...))
}

// Budget is the read side of a retry budget.
type Budget interface {
	Remaining() float64
	Max() int
}

// RegisterBudgetGauge exports the live token count of budget as the
// observable gauge retry.budget.remaining, labelled with name. The returned
// registration stops the export when unregistered.
func RegisterBudgetGauge(meter metric.Meter, name string, budget Budget) (metric.Registration, error) {
	if budget == nil {
		return nil, ErrNilBudget
	}

	remaining, err := meter.Float64ObservableGauge(
		"retry.budget.remaining",
		metric.WithDescription("Retry tokens currently available"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	capacity, err := meter.Int64ObservableGauge(
		"retry.budget.capacity",
		metric.WithDescription("Retry budget capacity"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("budget", name))
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveFloat64(remaining, budget.Remaining(), attrs)
		o.ObserveInt64(capacity, int64(budget.Max()), attrs)
		return nil
	}, remaining, capacity)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordExecution(ctx context.Context, meta CallMeta, attempts int, duration time.Duration, err error) {
}

func (m *noopMetrics) RecordRetry(ctx context.Context, meta CallMeta, delay time.Duration) {}

func (m *noopMetrics) RecordBudgetExhausted(ctx context.Context, meta CallMeta) {}
