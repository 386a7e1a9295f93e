package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/retrybudget/resilience"
)

func newRecordingTracer() (*tracetest.SpanRecorder, *tracerImpl) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, &tracerImpl{tracer: tp.Tracer("test")}
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]attribute.Value {
	m := make(map[string]attribute.Value)
	for _, a := range s.Attributes() {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestCallMeta_SpanName(t *testing.T) {
	tests := []struct {
		meta CallMeta
		want string
	}{
		{CallMeta{Provider: "openai", Operation: "chat"}, "retry.execute.openai.chat"},
		{CallMeta{Operation: "embed"}, "retry.execute.embed"},
	}
	for _, tc := range tests {
		if got := tc.meta.SpanName(); got != tc.want {
			t.Errorf("SpanName() = %q, want %q", got, tc.want)
		}
	}
}

func TestCallMeta_CallID(t *testing.T) {
	tests := []struct {
		name string
		meta CallMeta
		want string
	}{
		{"explicit ID", CallMeta{ID: "custom", Provider: "openai", Operation: "chat"}, "custom"},
		{"provider and operation", CallMeta{Provider: "openai", Operation: "chat"}, "openai.chat"},
		{"operation only", CallMeta{Operation: "chat"}, "chat"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.meta.CallID(); got != tc.want {
				t.Errorf("CallID() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTracer_SpanAttributes(t *testing.T) {
	recorder, tr := newRecordingTracer()
	meta := CallMeta{Provider: "anthropic", Operation: "messages", Model: "large"}

	_, span := tr.StartSpan(context.Background(), meta)
	tr.EndSpan(span, 2, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]

	if s.Name() != "retry.execute.anthropic.messages" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.SpanKind() != trace.SpanKindClient {
		t.Errorf("span kind = %v, want client", s.SpanKind())
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status().Code)
	}

	attrs := spanAttrs(s)
	want := map[string]string{
		"call.id":        "anthropic.messages",
		"call.provider":  "anthropic",
		"call.operation": "messages",
		"call.model":     "large",
		"retry.outcome":  "success",
	}
	for k, v := range want {
		if got, ok := attrs[k]; !ok || got.AsString() != v {
			t.Errorf("%s = %v, want %q", k, got, v)
		}
	}
	if got := attrs["retry.attempts"]; got.AsInt64() != 2 {
		t.Errorf("retry.attempts = %v, want 2", got)
	}
}

func TestTracer_SpanAttributesMinimal(t *testing.T) {
	recorder, tr := newRecordingTracer()

	_, span := tr.StartSpan(context.Background(), CallMeta{Operation: "chat"})
	tr.EndSpan(span, 0, nil)

	attrs := spanAttrs(recorder.Ended()[0])
	for _, k := range []string{"call.provider", "call.model", "retry.attempts"} {
		if _, ok := attrs[k]; ok {
			t.Errorf("unexpected attribute %s", k)
		}
	}
}

func TestTracer_ContextPropagation(t *testing.T) {
	recorder, tr := newRecordingTracer()

	parentCtx, parent := tr.tracer.Start(context.Background(), "parent")
	ctx, span := tr.StartSpan(parentCtx, CallMeta{Operation: "chat"})

	if trace.SpanFromContext(ctx).SpanContext().SpanID() != span.SpanContext().SpanID() {
		t.Error("returned context should carry the new span")
	}
	tr.EndSpan(span, 1, nil)
	parent.End()

	child := recorder.Ended()[0]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("span should be a child of the context span")
	}
}

func TestTracer_ErrorRecording(t *testing.T) {
	recorder, tr := newRecordingTracer()

	_, span := tr.StartSpan(context.Background(), CallMeta{Operation: "chat"})
	tr.EndSpan(span, 1, resilience.NewProviderError("bad request", 400))

	s := recorder.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	if s.Status().Description != "bad request" {
		t.Errorf("status description = %q", s.Status().Description)
	}

	attrs := spanAttrs(s)
	if attrs["retry.outcome"].AsString() != "fatal" {
		t.Errorf("retry.outcome = %v, want fatal", attrs["retry.outcome"])
	}
	if attrs["provider.status_code"].AsInt64() != 400 {
		t.Errorf("provider.status_code = %v, want 400", attrs["provider.status_code"])
	}

	found := false
	for _, ev := range s.Events() {
		if ev.Name == "exception" {
			found = true
		}
	}
	if !found {
		t.Error("expected an exception event")
	}
}

func TestTracer_OutcomeForExhaustion(t *testing.T) {
	recorder, tr := newRecordingTracer()
	err := &resilience.RetriesExhaustedError{
		Attempts:        []resilience.AttemptRecord{{Err: errors.New("x")}},
		BudgetExhausted: true,
	}

	_, span := tr.StartSpan(context.Background(), CallMeta{Operation: "chat"})
	tr.EndSpan(span, 1, err)

	if got := spanAttrs(recorder.Ended()[0])["retry.outcome"].AsString(); got != "budget_exhausted" {
		t.Errorf("retry.outcome = %q, want budget_exhausted", got)
	}
}
