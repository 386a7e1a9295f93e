// Package stormsim runs many concurrent callers against a mock provider
// through one shared retry handler and reports how the retry budget held up.
package stormsim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/retrybudget/config"
	"github.com/jonwraymond/retrybudget/health"
	"github.com/jonwraymond/retrybudget/internal/mockprovider"
	"github.com/jonwraymond/retrybudget/observe"
	"github.com/jonwraymond/retrybudget/resilience"
)

// ErrNoCallers is returned when the simulation has nothing to run.
var ErrNoCallers = errors.New("stormsim: callers and requests must be positive")

// Options configures a simulation run.
type Options struct {
	Simulation config.SimulationConfig
	Retry      resilience.RetryConfig
	Health     health.BudgetCheckerConfig

	// Middleware instruments the shared handler when set.
	Middleware *observe.Middleware

	// Meter receives the live budget gauge when set.
	Meter metric.Meter

	// Provider names the simulated provider in telemetry and the health
	// report.
	// Default: "mock"
	Provider string

	// Clock drives the outage schedule, caller pacing and the handler.
	// Default: the real clock
	Clock quartz.Clock
}

// Report summarizes a simulation run.
type Report struct {
	Calls           int                     `json:"calls"`
	ProviderCalls   int                     `json:"provider_calls"`
	Outcomes        map[observe.Outcome]int `json:"outcomes"`
	Retries         int64                   `json:"retries"`
	BudgetRefusals  int64                   `json:"budget_refusals"`
	BudgetRemaining float64                 `json:"budget_remaining"`
	BudgetMax       int                     `json:"budget_max"`
	Duration        string                  `json:"duration"`
	Health          health.Report           `json:"health"`
}

// Amplification is provider calls per logical call. One means no call was
// retried.
func (r *Report) Amplification() float64 {
	if r.Calls == 0 {
		return 0
	}
	return float64(r.ProviderCalls) / float64(r.Calls)
}

type counters struct {
	retries  atomic.Int64
	refusals atomic.Int64
}

func (c *counters) sink() resilience.EventSink {
	return resilience.EventSinkFuncs{
		Retry:           func(resilience.RetryEvent) { c.retries.Add(1) },
		BudgetExhausted: func(resilience.BudgetExhaustedEvent) { c.refusals.Add(1) },
	}
}

// Run executes the simulation. Individual call failures are tallied in the
// report; Run itself fails only when ctx ends first.
func Run(ctx context.Context, opts Options) (*Report, error) {
	sim := opts.Simulation
	if sim.Callers <= 0 || sim.Requests <= 0 {
		return nil, ErrNoCallers
	}
	if opts.Provider == "" {
		opts.Provider = "mock"
	}
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	provider := mockprovider.New(mockprovider.Config{
		Latency:     sim.Latency,
		FailureRate: sim.FailureRate,
		RetryAfter:  sim.RetryAfter,
		Clock:       clock,
	})

	retryCfg := opts.Retry
	retryCfg.Clock = clock
	retryCfg.Budget.Clock = clock
	budget := resilience.NewTokenBucket(retryCfg.Budget)
	defer func() { _ = budget.Close() }()

	if opts.Meter != nil {
		reg, err := observe.RegisterBudgetGauge(opts.Meter, opts.Provider, budget)
		if err != nil {
			return nil, err
		}
		defer func() { _ = reg.Unregister() }()
	}

	var stats counters
	if opts.Middleware != nil {
		opts.Middleware = opts.Middleware.WithClock(clock)
	}

	meta := observe.CallMeta{Provider: opts.Provider, Operation: "complete"}
	retryOpts := []resilience.Option{
		resilience.WithBudget(budget),
		resilience.WithEventSink(stats.sink()),
	}
	if opts.Middleware != nil {
		retryOpts = append(retryOpts, resilience.WithEventSink(observe.NewSink(opts.Middleware, meta)))
	}

	handler := resilience.NewRetry[*mockprovider.Request, *mockprovider.Response](retryCfg, retryOpts...)
	defer func() { _ = handler.Close() }()

	execute := observe.ExecuteFunc[*mockprovider.Request, *mockprovider.Response](handler.Execute)
	if opts.Middleware != nil {
		execute = observe.Wrap(opts.Middleware, meta, execute)
	}

	scheduleCtx, stopSchedule := context.WithCancel(ctx)
	defer stopSchedule()
	var scheduleDone sync.WaitGroup
	if sim.OutageDuration > 0 {
		if sim.OutageStart <= 0 {
			startOutage(provider, sim)
		}
		scheduleDone.Add(1)
		go func() {
			defer scheduleDone.Done()
			runOutage(scheduleCtx, clock, provider, sim)
		}()
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[observe.Outcome]int)
	)
	record := func(err error) {
		mu.Lock()
		outcomes[observe.OutcomeOf(err)]++
		mu.Unlock()
	}

	start := clock.Now()
	g, gctx := errgroup.WithContext(ctx)
	for caller := range sim.Callers {
		g.Go(func() error {
			for n := range sim.Requests {
				req := &mockprovider.Request{
					Prompt:    fmt.Sprintf("caller %d request %d", caller, n),
					MaxTokens: 256,
				}
				_, err := execute(gctx, req, provider.Call)
				if gctx.Err() != nil {
					return gctx.Err()
				}
				record(err)
				if err := pause(gctx, clock, sim.Interval); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()
	elapsed := clock.Since(start)

	stopSchedule()
	scheduleDone.Wait()

	if err != nil {
		return nil, err
	}

	agg := health.NewAggregator()
	agg.Register(opts.Provider, health.NewBudgetChecker(opts.Provider, budget, opts.Health))

	return &Report{
		Calls:           sim.Callers * sim.Requests,
		ProviderCalls:   provider.CallCount(),
		Outcomes:        outcomes,
		Retries:         stats.retries.Load(),
		BudgetRefusals:  stats.refusals.Load(),
		BudgetRemaining: budget.Remaining(),
		BudgetMax:       budget.Max(),
		Duration:        elapsed.String(),
		Health:          health.BuildReport(ctx, agg),
	}, nil
}

func startOutage(p *mockprovider.Provider, sim config.SimulationConfig) {
	p.Update(func(c *mockprovider.Config) {
		c.FailureRate = 1
		c.FailureStatus = sim.OutageStatus
	})
}

func endOutage(p *mockprovider.Provider, sim config.SimulationConfig) {
	p.Update(func(c *mockprovider.Config) {
		c.FailureRate = sim.FailureRate
		c.FailureStatus = 0
	})
}

// runOutage fails every call between OutageStart and OutageStart plus
// OutageDuration. An outage starting at zero is already in effect.
func runOutage(ctx context.Context, clock quartz.Clock, p *mockprovider.Provider, sim config.SimulationConfig) {
	if sim.OutageStart > 0 {
		if pause(ctx, clock, sim.OutageStart) != nil {
			return
		}
		startOutage(p, sim)
	}
	if pause(ctx, clock, sim.OutageDuration) != nil {
		return
	}
	endOutage(p, sim)
}

func pause(ctx context.Context, clock quartz.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clock.NewTimer(d, "stormsim", "pause")
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
