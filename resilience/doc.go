// Package resilience wraps calls to an unreliable, rate-limited model
// provider with bounded, budgeted retry.
//
// Individual requests recover from transient failures, while a token bucket
// shared by every caller of a handler keeps the aggregate retry volume from
// turning a provider outage into a retry storm.
//
// # Components
//
//   - BackoffPolicy: exponential backoff capped at MaxDelay, with full,
//     equal or no jitter. Full jitter is the default.
//
//   - Classifier: decides whether an error is transient. Errors carrying a
//     status code are retryable only when the code is configured as such;
//     errors without one are retryable only when they look like a
//     connection fault. A provider's Retry-After hint overrides the
//     computed backoff, capped at twice MaxDelay.
//
//   - TokenBucket: retries take one token and are refused below half
//     capacity; successes credit a fraction of a token; a background
//     ticker refills the bucket so a total outage never locks retries out.
//
//   - Retry: the state machine tying the three together.
//
// # Usage
//
//	r := resilience.NewRetry[*Request, *Response](resilience.RetryConfig{
//	    MaxAttempts:  3,
//	    InitialDelay: 200 * time.Millisecond,
//	    MaxDelay:     30 * time.Second,
//	    Budget:       resilience.BudgetConfig{MaxTokens: 100},
//	})
//	defer r.Close()
//
//	res, err := r.Execute(ctx, req, client.Complete)
//	var exhausted *resilience.RetriesExhaustedError
//	switch {
//	case err == nil:
//	    use(res.Response)
//	case errors.Is(err, resilience.ErrBudgetExhausted):
//	    // provider degraded, budget protected it
//	case errors.As(err, &exhausted):
//	    // attempts ran out
//	default:
//	    // fatal: the request itself was bad
//	}
package resilience
