// Package mockprovider simulates a model provider with configurable latency,
// failure rate, scripted outcome sequences and Retry-After hints.
package mockprovider

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/jonwraymond/retrybudget/resilience"
)

// Scripted outcomes understood in Config.Sequence besides status codes.
const (
	// Success makes the call succeed.
	Success = 0
	// NetworkFault fails the call with a connection-level error.
	NetworkFault = -1
)

// ErrConnectionReset is the error returned for NetworkFault outcomes.
var ErrConnectionReset = errors.New("read tcp 10.0.0.1:443: connection reset by peer")

// Request is a completion request.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Metadata    map[string]any
}

// Response is a completion response.
type Response struct {
	Content      string
	TokensUsed   int
	Model        string
	FinishReason string
}

// Config configures the mock provider.
type Config struct {
	// Latency is how long every call takes.
	Latency time.Duration

	// FailureRate is the probability in [0, 1] that an unscripted call fails.
	FailureRate float64

	// FailureStatus is the status code of random failures.
	// Default: 503
	FailureStatus int

	// ErrorMessage is the message of provider errors.
	// Default: "Provider unavailable"
	ErrorMessage string

	// RetryAfter is attached to 429 failures when positive.
	RetryAfter time.Duration

	// TokensPerResponse is reported on every response.
	// Default: 100
	TokensPerResponse int

	// Model is reported on every response.
	// Default: "mock-model"
	Model string

	// Content overrides the generated response content.
	Content string

	// Sequence scripts the outcome of the first len(Sequence) calls: Success,
	// NetworkFault or a status code. Later calls fall back to FailureRate.
	Sequence []int

	// Clock drives the simulated latency.
	// Default: the real clock
	Clock quartz.Clock
}

func (c Config) withDefaults() Config {
	if c.FailureStatus == 0 {
		c.FailureStatus = http.StatusServiceUnavailable
	}
	if c.ErrorMessage == "" {
		c.ErrorMessage = "Provider unavailable"
	}
	if c.TokensPerResponse == 0 {
		c.TokensPerResponse = 100
	}
	if c.Model == "" {
		c.Model = "mock-model"
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	return c
}

// Provider is a scripted stand-in for a model provider. It is safe for
// concurrent use.
type Provider struct {
	mu        sync.Mutex
	config    Config
	calls     int
	seqIndex  int
	randFloat func() float64
}

// New creates a mock provider.
func New(config Config) *Provider {
	return &Provider{
		config: config.withDefaults(),
		// #nosec G404 -- simulated failures need no cryptographic randomness.
		randFloat: rand.Float64,
	}
}

// Call simulates one provider call. It matches resilience.CallFunc.
func (p *Provider) Call(ctx context.Context, req *Request) (*Response, error) {
	p.mu.Lock()
	p.calls++
	cfg := p.config
	outcome, scripted := p.nextOutcomeLocked()
	if !scripted {
		outcome = Success
		if p.randFloat() < cfg.FailureRate {
			outcome = cfg.FailureStatus
		}
	}
	p.mu.Unlock()

	if cfg.Latency > 0 {
		timer := cfg.Clock.NewTimer(cfg.Latency, "mockprovider", "latency")
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	switch outcome {
	case Success:
	case NetworkFault:
		return nil, ErrConnectionReset
	default:
		return nil, providerError(cfg, outcome)
	}

	content := cfg.Content
	if content == "" {
		prompt := ""
		if req != nil {
			prompt = req.Prompt
		}
		if len(prompt) > 50 {
			prompt = prompt[:50]
		}
		content = fmt.Sprintf("Mock response for: %s", prompt)
	}

	return &Response{
		Content:      content,
		TokensUsed:   cfg.TokensPerResponse,
		Model:        cfg.Model,
		FinishReason: "stop",
	}, nil
}

func (p *Provider) nextOutcomeLocked() (int, bool) {
	if p.seqIndex >= len(p.config.Sequence) {
		return 0, false
	}
	outcome := p.config.Sequence[p.seqIndex]
	p.seqIndex++
	return outcome, true
}

func providerError(cfg Config, status int) *resilience.ProviderError {
	err := resilience.NewProviderError(cfg.ErrorMessage, status)
	if status == http.StatusTooManyRequests && cfg.RetryAfter > 0 {
		err.RetryAfterDelay = cfg.RetryAfter
	}
	return err
}

// CallCount returns the number of calls made since creation or Reset.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Reset clears the call count and rewinds the scripted sequence.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = 0
	p.seqIndex = 0
}

// Update replaces the configuration. A new Sequence is played from the start.
func (p *Provider) Update(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seq := p.config.Sequence
	fn(&p.config)
	p.config = p.config.withDefaults()
	if !sameSequence(seq, p.config.Sequence) {
		p.seqIndex = 0
	}
}

func sameSequence(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}
