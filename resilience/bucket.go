package resilience

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// retryGate is the fraction of capacity below which retries are paused.
const retryGate = 0.5

// BudgetConfig configures the token bucket that bounds aggregate retries.
type BudgetConfig struct {
	// MaxTokens is the bucket capacity. The bucket starts full.
	// Default: 100
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// TokenRatio is the credit added for every successful call.
	// Default: 0.1
	TokenRatio float64 `yaml:"token_ratio" json:"token_ratio"`

	// RefillInterval is the period of the passive refill.
	// Default: 1s. Negative disables passive refill.
	RefillInterval time.Duration `yaml:"refill_interval" json:"refill_interval"`

	// RefillAmount is the number of tokens added on every refill tick.
	// Default: 1. Negative disables passive refill.
	RefillAmount float64 `yaml:"refill_amount" json:"refill_amount"`

	// Clock drives the refill ticker.
	// Default: the real clock
	Clock quartz.Clock `yaml:"-" json:"-"`
}

func (c BudgetConfig) withDefaults() BudgetConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 100
	}
	if c.TokenRatio <= 0 {
		c.TokenRatio = 0.1
	}
	if c.RefillInterval == 0 {
		c.RefillInterval = time.Second
	}
	if c.RefillAmount == 0 {
		c.RefillAmount = 1
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	return c
}

func (c BudgetConfig) refillEnabled() bool {
	return c.RefillInterval > 0 && c.RefillAmount > 0
}

// TokenBucket bounds the retry volume of every call sharing it. Retries
// consume a token, successes credit a fraction of one, and a background
// ticker adds tokens at a fixed rate so a total outage cannot lock retries
// out forever.
//
// Retries are refused once the bucket is below half capacity. Contention
// between callers is unordered: whichever caller takes the lock first wins.
type TokenBucket struct {
	config BudgetConfig

	mu     sync.Mutex
	tokens float64

	cancel    context.CancelFunc
	refill    quartz.Waiter
	closeOnce sync.Once
}

// NewTokenBucket creates a full bucket and starts its refill ticker.
// Callers must Close the bucket when done with it.
func NewTokenBucket(config BudgetConfig) *TokenBucket {
	config = config.withDefaults()

	b := &TokenBucket{
		config: config,
		tokens: float64(config.MaxTokens),
	}

	if config.refillEnabled() {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.refill = config.Clock.TickerFunc(ctx, config.RefillInterval, func() error {
			b.add(config.RefillAmount)
			return nil
		}, "budget", "refill")
	}

	return b
}

// TryConsume takes one token for a retry. It returns false, leaving the
// bucket untouched, when fewer than one token remains or the bucket is below
// half capacity.
func (b *TokenBucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tokens < float64(b.config.MaxTokens)*retryGate {
		return false
	}
	if b.tokens < 1 {
		return false
	}

	b.tokens--
	return true
}

// RecordSuccess credits the bucket for a successful call.
func (b *TokenBucket) RecordSuccess() {
	b.add(b.config.TokenRatio)
}

// refund returns a token taken for a retry that never ran.
func (b *TokenBucket) refund() {
	b.add(1)
}

func (b *TokenBucket) add(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = math.Min(float64(b.config.MaxTokens), b.tokens+n)
}

// Remaining returns the current number of tokens.
func (b *TokenBucket) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Max returns the bucket capacity.
func (b *TokenBucket) Max() int {
	return b.config.MaxTokens
}

// Reset restores the bucket to full capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = float64(b.config.MaxTokens)
}

// Config returns the bucket configuration with defaults applied.
func (b *TokenBucket) Config() BudgetConfig {
	return b.config
}

// Close stops the refill ticker and waits for it to exit. It is safe to call
// more than once and does not affect in-flight Execute calls.
func (b *TokenBucket) Close() error {
	if b == nil {
		return ErrBucketClosed
	}

	var err error
	b.closeOnce.Do(func() {
		if b.cancel == nil {
			return
		}
		b.cancel()
		if werr := b.refill.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
			err = werr
		}
	})
	return err
}
