package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/retrybudget/resilience"
)

// CallMeta describes a guarded provider call for telemetry purposes.
type CallMeta struct {
	ID        string // Stable identifier (defaults to provider.operation)
	Provider  string // Provider name (optional)
	Operation string // Operation name (required)
	Model     string // Model name (optional)
}

// SpanName returns the deterministic span name for this call.
// Format: retry.execute.<provider>.<operation> or retry.execute.<operation>
func (m CallMeta) SpanName() string {
	if m.Provider != "" {
		return "retry.execute." + m.Provider + "." + m.Operation
	}
	return "retry.execute." + m.Operation
}

// CallID returns the call identifier.
// If ID is set, returns it. Otherwise constructs it from provider and operation.
func (m CallMeta) CallID() string {
	if m.ID != "" {
		return m.ID
	}
	if m.Provider != "" {
		return m.Provider + "." + m.Operation
	}
	return m.Operation
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("call.id", m.CallID()),
		attribute.String("call.operation", m.Operation),
	}
	if m.Provider != "" {
		attrs = append(attrs, attribute.String("call.provider", m.Provider))
	}
	if m.Model != "" {
		attrs = append(attrs, attribute.String("call.model", m.Model))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with retry-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span covering one Execute.
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording the outcome and any error.
	EndSpan(span trace.Span, attempts int, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// newTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with call metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(meta.attributes()...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span and records the error status if present. Fatal
// provider errors keep their status code on the span.
func (t *tracerImpl) EndSpan(span trace.Span, attempts int, err error) {
	span.SetAttributes(attribute.String("retry.outcome", string(OutcomeOf(err))))
	if attempts > 0 {
		span.SetAttributes(attribute.Int("retry.attempts", attempts))
	}

	if err != nil {
		var coder resilience.StatusCoder
		if errors.As(err, &coder) {
			span.SetAttributes(attribute.Int("provider.status_code", coder.StatusCode()))
		}
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// newNoopTracer creates a no-op tracer.
func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, attempts int, err error) {
	span.End()
}
