// Package observe instruments retry handlers with OpenTelemetry traces and
// metrics and zap structured logs.
//
// A Middleware built from an Observer provides two hooks: NewSink turns the
// handler's retry and budget events into span events, counters and log
// lines, and Wrap traces, meters and logs every Execute. RegisterBudgetGauge
// exports the live token count of a retry budget.
//
//	mw, err := observe.MiddlewareFromObserver(obs)
//	meta := observe.CallMeta{Provider: "openai", Operation: "chat"}
//	r := resilience.NewRetry[Req, Resp](cfg, resilience.WithEventSink(observe.NewSink(mw, meta)))
//	execute := observe.Wrap(mw, meta, r.Execute)
//	res, err := execute(ctx, req, client.Complete)
package observe
