package resilience

import (
	"context"
	"slices"
	"time"

	"github.com/coder/quartz"
)

// CallFunc performs one remote call. It is the seam to the provider client.
type CallFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the base delay before the first retry.
	// Default: 200ms
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the computed delay between retries. A retry-delay hint
	// from the provider may exceed it, up to twice this value.
	// Default: 30s
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the exponential growth factor.
	// Default: 2.0
	Multiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`

	// Jitter selects how delays are randomized.
	// Default: JitterFull
	Jitter JitterMode `yaml:"jitter" json:"jitter"`

	// RetryableStatuses lists the provider status codes treated as transient.
	// Default: DefaultRetryableStatuses
	RetryableStatuses []int `yaml:"retryable_statuses" json:"retryable_statuses"`

	// Budget sizes the token bucket created for this handler.
	Budget BudgetConfig `yaml:"budget" json:"budget"`

	// OnRetry is called before each backoff wait.
	OnRetry func(ev RetryEvent) `yaml:"-" json:"-"`

	// OnBudgetExhausted is called when the budget refuses a retry.
	OnBudgetExhausted func(ev BudgetExhaustedEvent) `yaml:"-" json:"-"`

	// Clock drives backoff timers and latency measurement.
	// Default: the real clock
	Clock quartz.Clock `yaml:"-" json:"-"`
}

// WithDefaults returns a copy of the configuration with zero values
// replaced by their defaults.
func (c RetryConfig) WithDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if mode, err := ParseJitterMode(string(c.Jitter)); err == nil {
		c.Jitter = mode
	} else {
		c.Jitter = JitterFull
	}
	if len(c.RetryableStatuses) == 0 {
		c.RetryableStatuses = slices.Clone(DefaultRetryableStatuses)
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	if c.Budget.Clock == nil {
		c.Budget.Clock = c.Clock
	}
	return c
}

// RetryResult is the outcome of a successful Execute call.
type RetryResult[Resp any] struct {
	Response Resp

	// Attempts is the total number of calls made, including the first.
	Attempts int

	// RetriesUsed is Attempts minus one.
	RetriesUsed int

	// BudgetRemaining is the token count after the success was credited.
	BudgetRemaining float64

	TotalLatency time.Duration
}

// Retry drives calls through bounded, budgeted retries. One Retry is meant
// to be shared by every caller of a provider so that they draw on the same
// retry budget.
type Retry[Req, Resp any] struct {
	config     RetryConfig
	backoff    BackoffPolicy
	classifier *Classifier
	budget     *TokenBucket
	ownsBudget bool
	sink       EventSink
	pipeline   pipeline
}

// NewRetry creates a retry handler. Unless WithBudget supplies a shared
// bucket, the handler owns a new one and Close must be called to stop its
// refill ticker.
func NewRetry[Req, Resp any](config RetryConfig, opts ...Option) *Retry[Req, Resp] {
	config = config.WithDefaults()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	r := &Retry[Req, Resp]{
		config: config,
		backoff: BackoffPolicy{
			InitialDelay: config.InitialDelay,
			MaxDelay:     config.MaxDelay,
			Multiplier:   config.Multiplier,
			Jitter:       config.Jitter,
		},
		classifier: NewClassifier(config.RetryableStatuses),
		budget:     o.budget,
		pipeline:   o.pipeline(),
	}

	if r.budget == nil {
		r.budget = NewTokenBucket(config.Budget)
		r.ownsBudget = true
	}

	sinks := make(multiSink, 0, len(o.sinks)+1)
	if config.OnRetry != nil || config.OnBudgetExhausted != nil {
		sinks = append(sinks, EventSinkFuncs{
			Retry:           config.OnRetry,
			BudgetExhausted: config.OnBudgetExhausted,
		})
	}
	sinks = append(sinks, o.sinks...)
	r.sink = sinks

	return r
}

// Execute runs call with retry logic and budget enforcement.
//
// A fatal error is returned unchanged after the first failing attempt. A
// transient failure is retried until it succeeds, attempts run out, or the
// budget refuses a retry; the latter two return *RetriesExhaustedError. When
// ctx ends, Execute returns an error matching ErrCanceled and the context
// error without charging the budget.
func (r *Retry[Req, Resp]) Execute(ctx context.Context, req Req, call CallFunc[Req, Resp]) (*RetryResult[Resp], error) {
	if call == nil {
		return nil, ErrNilCall
	}
	if err := ctx.Err(); err != nil {
		return nil, canceledError(err)
	}

	clock := r.config.Clock
	call = wrapCall(r.pipeline, call)

	start := clock.Now()
	var records []AttemptRecord
	budgetExhausted := false

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		attemptStart := clock.Now()

		resp, err := call(ctx, req)
		if err == nil {
			r.budget.RecordSuccess()
			return &RetryResult[Resp]{
				Response:        resp,
				Attempts:        attempt + 1,
				RetriesUsed:     attempt,
				BudgetRemaining: r.budget.Remaining(),
				TotalLatency:    clock.Since(start),
			}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, canceledError(ctxErr)
		}

		latency := clock.Since(attemptStart)

		if !r.classifier.IsRetryable(err) {
			return nil, err
		}

		delay := r.delayFor(attempt, err)
		records = append(records, AttemptRecord{
			Attempt: attempt,
			Err:     err,
			Latency: latency,
			Delay:   delay,
		})

		// No more attempts available
		if attempt+1 >= r.config.MaxAttempts {
			break
		}

		// Fail fast instead of waiting when the budget says no.
		if !r.budget.TryConsume() {
			budgetExhausted = true
			r.sink.OnBudgetExhausted(ctx, BudgetExhaustedEvent{
				Attempt:         attempt + 1,
				MaxAttempts:     r.config.MaxAttempts,
				Err:             err,
				BudgetRemaining: r.budget.Remaining(),
				BudgetMax:       r.budget.Max(),
			})
			break
		}

		r.sink.OnRetry(ctx, RetryEvent{
			Attempt:         attempt + 1,
			MaxAttempts:     r.config.MaxAttempts,
			Err:             err,
			Delay:           delay,
			BudgetRemaining: r.budget.Remaining(),
		})

		if err := r.sleep(ctx, delay); err != nil {
			r.budget.refund()
			return nil, canceledError(err)
		}
	}

	return nil, &RetriesExhaustedError{
		Attempts:        records,
		TotalLatency:    clock.Since(start),
		BudgetExhausted: budgetExhausted,
	}
}

// delayFor returns the computed backoff, or the provider's hint capped at
// twice MaxDelay when one is present.
func (r *Retry[Req, Resp]) delayFor(attempt int, err error) time.Duration {
	computed := r.backoff.Delay(attempt)
	if hint, ok := RetryDelayHint(err); ok {
		return min(hint, 2*r.config.MaxDelay)
	}
	return computed
}

func (r *Retry[Req, Resp]) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := r.config.Clock.NewTimer(d, "retry", "backoff")
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Budget returns the token bucket used by this handler.
func (r *Retry[Req, Resp]) Budget() *TokenBucket {
	return r.budget
}

// Config returns the retry configuration with defaults applied.
func (r *Retry[Req, Resp]) Config() RetryConfig {
	return r.config
}

// Close stops the refill ticker of a bucket owned by this handler. A bucket
// supplied through WithBudget is left running for its other owners.
func (r *Retry[Req, Resp]) Close() error {
	if !r.ownsBudget {
		return nil
	}
	return r.budget.Close()
}
