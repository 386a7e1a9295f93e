package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jonwraymond/retrybudget/config"
	"github.com/jonwraymond/retrybudget/internal/stormsim"
	"github.com/jonwraymond/retrybudget/observe"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a retry storm simulation",
	Long: `Run starts the configured number of callers against the mock provider.
Every caller shares one retry handler and therefore one retry budget.

Flags override values read from --config.

Examples:
  # 50 callers, provider down for 2s after 500ms
  stormsim run --callers 50 --outage-start 500ms --outage-duration 2s

  # Rate-limit storm with Retry-After hints, JSON report
  stormsim run --outage-duration 1s --outage-status 429 --retry-after 100ms --json

  # Log every retry and export spans to stdout
  stormsim run --log-level debug --trace-exporter stdout`,
	Args: cobra.NoArgs,
	RunE: runSimulation,
}

type runOptions struct {
	callers         int
	requests        int
	interval        time.Duration
	latency         time.Duration
	failureRate     float64
	outageStart     time.Duration
	outageDuration  time.Duration
	outageStatus    int
	retryAfter      time.Duration
	maxAttempts     int
	budget          int
	logLevel        string
	traceExporter   string
	metricsExporter string
	jsonOutput      bool
}

var runFlags runOptions

func resetRunFlags() {
	runFlags = runOptions{}
	runCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&runFlags.callers, "callers", 0, "Number of concurrent callers")
	f.IntVar(&runFlags.requests, "requests", 0, "Calls per caller")
	f.DurationVar(&runFlags.interval, "interval", 0, "Pause between calls of one caller")
	f.DurationVar(&runFlags.latency, "latency", 0, "Simulated provider latency")
	f.Float64Var(&runFlags.failureRate, "failure-rate", 0, "Failure probability outside the outage")
	f.DurationVar(&runFlags.outageStart, "outage-start", 0, "When the outage begins")
	f.DurationVar(&runFlags.outageDuration, "outage-duration", 0, "How long the outage lasts (0 disables it)")
	f.IntVar(&runFlags.outageStatus, "outage-status", 0, "Status code returned during the outage")
	f.DurationVar(&runFlags.retryAfter, "retry-after", 0, "Retry-After hint attached to 429 responses")
	f.IntVar(&runFlags.maxAttempts, "max-attempts", 0, "Maximum attempts per call")
	f.IntVar(&runFlags.budget, "budget", 0, "Retry budget capacity in tokens")
	f.StringVar(&runFlags.logLevel, "log-level", "", "Enable logging at debug|info|warn|error")
	f.StringVar(&runFlags.traceExporter, "trace-exporter", "", "Enable tracing with otlp|jaeger|stdout|none")
	f.StringVar(&runFlags.metricsExporter, "metrics-exporter", "", "Enable metrics with otlp|prometheus|stdout|none")
	f.BoolVar(&runFlags.jsonOutput, "json", false, "Print the report as JSON")

	rootCmd.AddCommand(runCmd)
}

// loadConfig reads --config, or the defaults when it is unset, and applies
// the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	sim := &cfg.Simulation
	if flags.Changed("callers") {
		sim.Callers = runFlags.callers
	}
	if flags.Changed("requests") {
		sim.Requests = runFlags.requests
	}
	if flags.Changed("interval") {
		sim.Interval = runFlags.interval
	}
	if flags.Changed("latency") {
		sim.Latency = runFlags.latency
	}
	if flags.Changed("failure-rate") {
		sim.FailureRate = runFlags.failureRate
	}
	if flags.Changed("outage-start") {
		sim.OutageStart = runFlags.outageStart
	}
	if flags.Changed("outage-duration") {
		sim.OutageDuration = runFlags.outageDuration
	}
	if flags.Changed("outage-status") {
		sim.OutageStatus = runFlags.outageStatus
	}
	if flags.Changed("retry-after") {
		sim.RetryAfter = runFlags.retryAfter
	}
	if flags.Changed("max-attempts") {
		cfg.Retry.MaxAttempts = runFlags.maxAttempts
	}
	if flags.Changed("budget") {
		cfg.Retry.Budget.MaxTokens = runFlags.budget
	}
	if flags.Changed("log-level") {
		cfg.Observe.Logging = observe.LoggingConfig{Enabled: true, Level: runFlags.logLevel}
	}
	if flags.Changed("trace-exporter") {
		cfg.Observe.Tracing.Enabled = true
		cfg.Observe.Tracing.Exporter = runFlags.traceExporter
		if cfg.Observe.Tracing.SamplePct == 0 {
			cfg.Observe.Tracing.SamplePct = 1
		}
	}
	if flags.Changed("metrics-exporter") {
		cfg.Observe.Metrics = observe.MetricsConfig{Enabled: true, Exporter: runFlags.metricsExporter}
	}

	if sim.Callers <= 0 || sim.Requests <= 0 {
		return nil, &usageError{fmt.Errorf("--callers and --requests must be positive")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := stormsim.Options{
		Simulation: cfg.Simulation,
		Retry:      cfg.Retry,
		Health:     cfg.Health,
	}

	o := cfg.Observe
	if o.Logging.Enabled || o.Tracing.Enabled || o.Metrics.Enabled {
		o.LogOutput = cmd.ErrOrStderr()
		o.Output = cmd.ErrOrStderr()
		obs, err := observe.NewObserver(ctx, o)
		if err != nil {
			return fmt.Errorf("observer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: telemetry shutdown: %v\n", err)
			}
		}()

		mw, err := observe.MiddlewareFromObserver(obs)
		if err != nil {
			return fmt.Errorf("observer: %w", err)
		}
		opts.Middleware = mw
		opts.Meter = obs.Meter()
	}

	report, err := stormsim.Run(ctx, opts)
	if err != nil {
		return err
	}

	if runFlags.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func writeJSON(w io.Writer, report *stormsim.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printReport(w io.Writer, r *stormsim.Report) {
	fmt.Fprintf(w, "Calls:            %d\n", r.Calls)
	fmt.Fprintf(w, "Provider calls:   %d (x%.2f)\n", r.ProviderCalls, r.Amplification())
	fmt.Fprintf(w, "Retries:          %d\n", r.Retries)
	fmt.Fprintf(w, "Budget refusals:  %d\n", r.BudgetRefusals)
	fmt.Fprintf(w, "Budget remaining: %.1f / %d\n", r.BudgetRemaining, r.BudgetMax)
	fmt.Fprintf(w, "Duration:         %s\n", r.Duration)
	fmt.Fprintln(w, "Outcomes:")

	outcomes := make([]observe.Outcome, 0, len(r.Outcomes))
	for outcome := range r.Outcomes {
		outcomes = append(outcomes, outcome)
	}
	slices.Sort(outcomes)
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "  %-20s %d\n", outcome, r.Outcomes[outcome])
	}

	status, _ := r.Health.Status.MarshalText()
	fmt.Fprintf(w, "Health:           %s\n", status)
}
