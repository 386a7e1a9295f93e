package health

import (
	"context"
	"fmt"
)

// Budget is the read side of a retry budget. *resilience.TokenBucket
// satisfies it.
type Budget interface {
	Remaining() float64
	Max() int
}

// BudgetCheckerConfig configures a BudgetChecker.
type BudgetCheckerConfig struct {
	// PauseRatio is the fraction of capacity below which the budget refuses
	// retries. The check reports degraded below it.
	// Default: 0.5
	PauseRatio float64 `yaml:"pause_ratio" json:"pause_ratio"`

	// CriticalRatio is the fraction of capacity below which the check
	// reports unhealthy.
	// Default: 0.1
	CriticalRatio float64 `yaml:"critical_ratio" json:"critical_ratio"`
}

// BudgetChecker reports the state of a retry budget: healthy while retries
// are allowed, degraded while they are paused and unhealthy when the budget
// is close to empty.
type BudgetChecker struct {
	name   string
	budget Budget
	config BudgetCheckerConfig
}

// NewBudgetChecker creates a checker for budget.
func NewBudgetChecker(name string, budget Budget, config ...BudgetCheckerConfig) *BudgetChecker {
	var cfg BudgetCheckerConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.PauseRatio <= 0 || cfg.PauseRatio > 1 {
		cfg.PauseRatio = 0.5
	}
	if cfg.CriticalRatio <= 0 || cfg.CriticalRatio > cfg.PauseRatio {
		cfg.CriticalRatio = min(0.1, cfg.PauseRatio)
	}

	return &BudgetChecker{name: name, budget: budget, config: cfg}
}

// Name returns the name of this checker.
func (c *BudgetChecker) Name() string {
	return c.name
}

// Check reports the budget state.
func (c *BudgetChecker) Check(ctx context.Context) Result {
	capacity := c.budget.Max()
	if capacity <= 0 {
		return Unhealthy("retry budget has no capacity", ErrNoCapacity)
	}

	remaining := c.budget.Remaining()
	ratio := remaining / float64(capacity)
	details := map[string]any{
		"remaining": remaining,
		"max":       capacity,
		"ratio":     ratio,
	}

	switch {
	case ratio < c.config.CriticalRatio:
		return Unhealthy(
			fmt.Sprintf("retry budget critical: %.1f of %d tokens", remaining, capacity),
			ErrBudgetCritical,
		).WithDetails(details)
	case ratio < c.config.PauseRatio || remaining < 1:
		return Degraded(
			fmt.Sprintf("retries paused: %.1f of %d tokens", remaining, capacity),
		).WithDetails(details)
	default:
		return Healthy(
			fmt.Sprintf("retries allowed: %.1f of %d tokens", remaining, capacity),
		).WithDetails(details)
	}
}

var _ Checker = (*BudgetChecker)(nil)
