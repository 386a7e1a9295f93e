// Package config loads the YAML configuration shared by the retry handler,
// the observer and the storm simulator.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/retrybudget/health"
	"github.com/jonwraymond/retrybudget/observe"
	"github.com/jonwraymond/retrybudget/resilience"
)

var (
	// ErrConfigNotFound is returned when the config file does not exist.
	ErrConfigNotFound = errors.New("config: file not found")

	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Config is the root of the configuration file.
type Config struct {
	Retry      resilience.RetryConfig     `yaml:"retry"`
	Observe    observe.Config             `yaml:"observe"`
	Health     health.BudgetCheckerConfig `yaml:"health"`
	Simulation SimulationConfig           `yaml:"simulation"`
}

// SimulationConfig drives the storm simulator.
type SimulationConfig struct {
	// Callers is the number of concurrent callers.
	// Default: 50
	Callers int `yaml:"callers"`

	// Requests is the number of calls each caller makes.
	// Default: 20
	Requests int `yaml:"requests"`

	// Interval is the pause between calls of one caller.
	// Default: 10ms
	Interval time.Duration `yaml:"interval"`

	// Latency is the simulated provider latency.
	// Default: 5ms
	Latency time.Duration `yaml:"latency"`

	// FailureRate is the provider failure probability outside the outage.
	FailureRate float64 `yaml:"failure_rate"`

	// OutageStart is when the outage begins, relative to the start of the run.
	OutageStart time.Duration `yaml:"outage_start"`

	// OutageDuration is how long every call fails. Zero means no outage.
	OutageDuration time.Duration `yaml:"outage_duration"`

	// OutageStatus is the status code returned during the outage.
	// Default: 503
	OutageStatus int `yaml:"outage_status"`

	// RetryAfter is attached to 429 responses when positive.
	RetryAfter time.Duration `yaml:"retry_after"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Observe: observe.Config{ServiceName: "retrybudget"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = "retrybudget"
	}

	s := &c.Simulation
	if s.Callers <= 0 {
		s.Callers = 50
	}
	if s.Requests <= 0 {
		s.Requests = 20
	}
	if s.Interval <= 0 {
		s.Interval = 10 * time.Millisecond
	}
	if s.Latency <= 0 {
		s.Latency = 5 * time.Millisecond
	}
	if s.OutageStatus == 0 {
		s.OutageStatus = http.StatusServiceUnavailable
	}
}

// Load reads, parses and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting. Zero values are valid and
// select defaults.
func (c *Config) Validate() error {
	r := c.Retry
	switch {
	case r.MaxAttempts < 0:
		return fmt.Errorf("%w: retry.max_attempts must not be negative, got %d", ErrInvalid, r.MaxAttempts)
	case r.InitialDelay < 0:
		return fmt.Errorf("%w: retry.initial_delay must not be negative, got %s", ErrInvalid, r.InitialDelay)
	case r.MaxDelay < 0:
		return fmt.Errorf("%w: retry.max_delay must not be negative, got %s", ErrInvalid, r.MaxDelay)
	case r.MaxDelay > 0 && r.InitialDelay > r.MaxDelay:
		return fmt.Errorf("%w: retry.initial_delay %s exceeds retry.max_delay %s", ErrInvalid, r.InitialDelay, r.MaxDelay)
	case r.Multiplier < 0:
		return fmt.Errorf("%w: retry.backoff_multiplier must not be negative, got %g", ErrInvalid, r.Multiplier)
	case r.Budget.MaxTokens < 0:
		return fmt.Errorf("%w: retry.budget.max_tokens must not be negative, got %d", ErrInvalid, r.Budget.MaxTokens)
	case r.Budget.TokenRatio < 0:
		return fmt.Errorf("%w: retry.budget.token_ratio must not be negative, got %g", ErrInvalid, r.Budget.TokenRatio)
	}

	if _, err := resilience.ParseJitterMode(string(r.Jitter)); err != nil {
		return fmt.Errorf("%w: retry.jitter: %w", ErrInvalid, err)
	}

	for _, status := range r.RetryableStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("%w: retry.retryable_statuses: %d is not an HTTP status", ErrInvalid, status)
		}
	}

	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("%w: observe: %w", ErrInvalid, err)
	}

	h := c.Health
	if h.PauseRatio < 0 || h.PauseRatio > 1 || h.CriticalRatio < 0 || h.CriticalRatio > 1 {
		return fmt.Errorf("%w: health ratios must be within [0, 1]", ErrInvalid)
	}

	s := c.Simulation
	switch {
	case s.FailureRate < 0 || s.FailureRate > 1:
		return fmt.Errorf("%w: simulation.failure_rate must be within [0, 1], got %g", ErrInvalid, s.FailureRate)
	case s.OutageStart < 0 || s.OutageDuration < 0:
		return fmt.Errorf("%w: simulation outage window must not be negative", ErrInvalid)
	case s.OutageStatus < 100 || s.OutageStatus > 599:
		return fmt.Errorf("%w: simulation.outage_status: %d is not an HTTP status", ErrInvalid, s.OutageStatus)
	}

	return nil
}
