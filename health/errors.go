package health

import "errors"

var (
	// ErrCheckFailed indicates a health check failed.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout indicates a health check timed out.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates a checker was not found.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrBudgetCritical indicates a retry budget is nearly empty.
	ErrBudgetCritical = errors.New("health: retry budget critical")

	// ErrNoCapacity indicates a retry budget with no capacity.
	ErrNoCapacity = errors.New("health: retry budget has no capacity")
)
