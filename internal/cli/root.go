// Package cli implements the stormsim command line.
package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/retrybudget/config"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitUsageError  = 2
	ExitPanic       = 3
	ExitConfigError = 10
)

var rootCmd = &cobra.Command{
	Use:   "stormsim",
	Short: "Simulate retry storms against a budgeted retry handler",
	Long: `stormsim drives many concurrent callers through one shared retry handler
against a mock model provider, optionally during an outage, and reports how
many calls succeeded, how many retries the budget allowed and how much of the
budget is left.

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
}

// usageError marks errors caused by bad arguments or flags.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// ExitCodeForError maps an error returned by Execute to a process exit code.
func ExitCodeForError(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.Is(err, config.ErrConfigNotFound), errors.Is(err, config.ErrInvalid):
		return ExitConfigError
	default:
		return ExitError
	}
}
