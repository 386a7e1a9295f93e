package stormsim

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonwraymond/retrybudget/config"
	"github.com/jonwraymond/retrybudget/health"
	"github.com/jonwraymond/retrybudget/observe"
	"github.com/jonwraymond/retrybudget/resilience"
)

func fastRetry(maxTokens int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Jitter:       resilience.JitterNone,
		Budget: resilience.BudgetConfig{
			MaxTokens:      maxTokens,
			RefillInterval: -1,
		},
	}
}

func TestRun_HealthyProvider(t *testing.T) {
	report, err := Run(context.Background(), Options{
		Simulation: config.SimulationConfig{Callers: 5, Requests: 4},
		Retry:      fastRetry(10),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Calls != 20 || report.ProviderCalls != 20 {
		t.Errorf("calls = %d/%d, want 20/20", report.Calls, report.ProviderCalls)
	}
	if got := report.Outcomes[observe.OutcomeSuccess]; got != 20 {
		t.Errorf("successes = %d, want 20", got)
	}
	if report.Retries != 0 || report.BudgetRefusals != 0 {
		t.Errorf("retries/refusals = %d/%d, want 0/0", report.Retries, report.BudgetRefusals)
	}
	if report.BudgetRemaining != 10 || report.BudgetMax != 10 {
		t.Errorf("budget = %v/%d, want 10/10", report.BudgetRemaining, report.BudgetMax)
	}
	if report.Amplification() != 1 {
		t.Errorf("Amplification() = %v, want 1", report.Amplification())
	}
	if report.Health.Status != health.StatusHealthy {
		t.Errorf("health = %v, want healthy", report.Health.Status)
	}
}

func TestRun_OutageIsBoundedByBudget(t *testing.T) {
	report, err := Run(context.Background(), Options{
		Simulation: config.SimulationConfig{
			Callers:        10,
			Requests:       1,
			OutageDuration: time.Hour,
			OutageStatus:   http.StatusServiceUnavailable,
		},
		Retry:    fastRetry(10),
		Provider: "openai",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Retries stop once the bucket falls below half: 10 -> 4.
	if report.Retries != 6 {
		t.Errorf("Retries = %d, want 6", report.Retries)
	}
	if report.ProviderCalls != 16 {
		t.Errorf("ProviderCalls = %d, want 16", report.ProviderCalls)
	}
	if report.BudgetRemaining != 4 {
		t.Errorf("BudgetRemaining = %v, want 4", report.BudgetRemaining)
	}

	failed := report.Outcomes[observe.OutcomeAttemptsExhausted] + report.Outcomes[observe.OutcomeBudgetExhausted]
	if failed != 10 {
		t.Errorf("exhausted outcomes = %d, want 10 (%v)", failed, report.Outcomes)
	}
	if report.Outcomes[observe.OutcomeSuccess] != 0 {
		t.Errorf("successes = %d, want 0", report.Outcomes[observe.OutcomeSuccess])
	}
	if int64(report.Outcomes[observe.OutcomeBudgetExhausted]) != report.BudgetRefusals {
		t.Errorf("budget outcomes %d != refusals %d", report.Outcomes[observe.OutcomeBudgetExhausted], report.BudgetRefusals)
	}

	check, ok := report.Health.Checks["openai"]
	if !ok {
		t.Fatalf("health checks = %v, want openai", report.Health.Checks)
	}
	if check.Status != health.StatusDegraded {
		t.Errorf("openai health = %v, want degraded", check.Status)
	}
}

func TestRun_FatalOutageSpendsNoBudget(t *testing.T) {
	report, err := Run(context.Background(), Options{
		Simulation: config.SimulationConfig{
			Callers:        4,
			Requests:       2,
			OutageDuration: time.Hour,
			OutageStatus:   http.StatusBadRequest,
		},
		Retry: fastRetry(10),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := report.Outcomes[observe.OutcomeFatal]; got != 8 {
		t.Errorf("fatal = %d, want 8", got)
	}
	if report.Retries != 0 || report.BudgetRemaining != 10 {
		t.Errorf("retries/budget = %d/%v, want 0/10", report.Retries, report.BudgetRemaining)
	}
}

func TestRun_WithMiddleware(t *testing.T) {
	var buf bytes.Buffer
	mw := observe.NewMiddleware(nil, nil, observe.NewLoggerWithWriter("info", &buf))

	report, err := Run(context.Background(), Options{
		Simulation: config.SimulationConfig{Callers: 2, Requests: 2},
		Retry:      fastRetry(10),
		Middleware: mw,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Outcomes[observe.OutcomeSuccess] != 4 {
		t.Errorf("outcomes = %v", report.Outcomes)
	}
	if got := bytes.Count(buf.Bytes(), []byte(`"call completed"`)); got != 4 {
		t.Errorf("logged %d completions, want 4:\n%s", got, buf.String())
	}
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), Options{Retry: fastRetry(10)})
	if !errors.Is(err, ErrNoCallers) {
		t.Errorf("Run() error = %v, want ErrNoCallers", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, Options{
		Simulation: config.SimulationConfig{Callers: 2, Requests: 2},
		Retry:      fastRetry(10),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
