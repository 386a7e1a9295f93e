// Package health reports the state of retry budgets.
//
// A BudgetChecker turns a token bucket into a health signal: healthy while
// retries are allowed, degraded while the bucket sits below the retry gate
// and retries are paused, and unhealthy once the bucket is nearly empty.
// Several checkers combine through an Aggregator, whose overall status is
// the worst of its members.
//
//	agg := health.NewAggregator()
//	agg.Add(health.NewBudgetChecker("openai", openaiRetry.Budget()))
//	agg.Add(health.NewBudgetChecker("anthropic", anthropicRetry.Budget()))
//
//	report := health.BuildReport(ctx, agg)
//
// # HTTP Endpoints
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg) // /healthz, /readyz, /health, /health/<name>
package health
