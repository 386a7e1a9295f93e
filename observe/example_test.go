package observe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/retrybudget/internal/mockprovider"
	"github.com/jonwraymond/retrybudget/observe"
	"github.com/jonwraymond/retrybudget/resilience"
)

func ExampleNewObserver() {
	cfg := observe.Config{
		ServiceName: "example-service",
		Version:     "1.0.0",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "none"},
		Metrics:     observe.MetricsConfig{Enabled: false},
		Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
	}

	ctx := context.Background()
	obs, err := observe.NewObserver(ctx, cfg)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer func() {
		_ = obs.Shutdown(ctx)
	}()

	fmt.Println("Observer created successfully")
	// Output:
	// Observer created successfully
}

func ExampleNewObserver_validation() {
	_, err := observe.NewObserver(context.Background(), observe.Config{})
	if errors.Is(err, observe.ErrMissingServiceName) {
		fmt.Println("Caught: missing service name")
	}
	// Output:
	// Caught: missing service name
}

func ExampleCallMeta_SpanName() {
	fmt.Println(observe.CallMeta{Provider: "openai", Operation: "chat"}.SpanName())
	fmt.Println(observe.CallMeta{Operation: "embed"}.SpanName())
	// Output:
	// retry.execute.openai.chat
	// retry.execute.embed
}

func ExampleLogger_WithCall() {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)

	logger.WithCall(observe.CallMeta{Provider: "openai", Operation: "chat"}).
		Info(context.Background(), "call completed", observe.Field{Key: "prompt", Value: "private"})

	output := buf.Bytes()
	fmt.Println("Contains call.id:", bytes.Contains(output, []byte(`"call.id":"openai.chat"`)))
	fmt.Println("Prompt redacted:", bytes.Contains(output, []byte(`"prompt":"[REDACTED]"`)))
	// Output:
	// Contains call.id: true
	// Prompt redacted: true
}

func ExampleWrap() {
	ctx := context.Background()

	obs, _ := observe.NewObserver(ctx, observe.Config{
		ServiceName: "example",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "none"},
		Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "none"},
	})
	defer func() {
		_ = obs.Shutdown(ctx)
	}()

	mw, _ := observe.MiddlewareFromObserver(obs)
	meta := observe.CallMeta{Provider: "mock", Operation: "chat"}

	r := resilience.NewRetry[*mockprovider.Request, *mockprovider.Response](
		resilience.RetryConfig{InitialDelay: time.Millisecond, Jitter: resilience.JitterNone},
		resilience.WithEventSink(observe.NewSink(mw, meta)),
	)
	defer func() { _ = r.Close() }()

	provider := mockprovider.New(mockprovider.Config{
		Sequence: []int{429, mockprovider.Success},
		Content:  "done",
	})

	execute := observe.Wrap(mw, meta, r.Execute)
	res, err := execute(ctx, &mockprovider.Request{Prompt: "hi"}, provider.Call)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(res.Response.Content, res.Attempts)
	// Output:
	// done 2
}

func ExampleOutcomeOf() {
	fmt.Println(observe.OutcomeOf(nil))
	fmt.Println(observe.OutcomeOf(&resilience.RetriesExhaustedError{BudgetExhausted: true}))
	fmt.Println(observe.OutcomeOf(resilience.NewProviderError("bad request", 400)))
	// Output:
	// success
	// budget_exhausted
	// fatal
}

func ExampleParseLogLevel() {
	levels := []string{"debug", "info", "warn", "error", "unknown"}
	for _, s := range levels {
		level := observe.ParseLogLevel(s)
		fmt.Printf("%s -> %s\n", s, level)
	}
	// Output:
	// debug -> debug
	// info -> info
	// warn -> warn
	// error -> error
	// unknown -> info
}
