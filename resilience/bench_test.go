package resilience

import (
	"context"
	"testing"
	"time"
)

// BenchmarkTokenBucket_TryConsume measures the gate under a refilled bucket.
func BenchmarkTokenBucket_TryConsume(b *testing.B) {
	bucket := NewTokenBucket(BudgetConfig{MaxTokens: 1_000_000, RefillInterval: -1})
	defer func() { _ = bucket.Close() }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !bucket.TryConsume() {
			bucket.Reset()
		}
	}
}

// BenchmarkTokenBucket_RecordSuccess measures success crediting.
func BenchmarkTokenBucket_RecordSuccess(b *testing.B) {
	bucket := NewTokenBucket(BudgetConfig{MaxTokens: 100, RefillInterval: -1})
	defer func() { _ = bucket.Close() }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bucket.RecordSuccess()
	}
}

// BenchmarkTokenBucket_Concurrent measures lock contention.
func BenchmarkTokenBucket_Concurrent(b *testing.B) {
	bucket := NewTokenBucket(BudgetConfig{MaxTokens: 100, RefillInterval: -1})
	defer func() { _ = bucket.Close() }()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if bucket.TryConsume() {
				bucket.RecordSuccess()
			}
		}
	})
}

// BenchmarkBackoffPolicy_Delay measures delay computation with full jitter.
func BenchmarkBackoffPolicy_Delay(b *testing.B) {
	p := BackoffPolicy{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       JitterFull,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Delay(i % 10)
	}
}

// BenchmarkIsRetryableError measures classification of a provider error.
func BenchmarkIsRetryableError(b *testing.B) {
	err := NewProviderError("unavailable", 503)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsRetryableError(err, DefaultRetryableStatuses)
	}
}

// BenchmarkRetry_Execute_Success measures the happy path overhead.
func BenchmarkRetry_Execute_Success(b *testing.B) {
	r := NewRetry[string, string](RetryConfig{Budget: BudgetConfig{RefillInterval: -1}})
	defer func() { _ = r.Close() }()
	ctx := context.Background()
	call := func(ctx context.Context, req string) (string, error) {
		return req, nil
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Execute(ctx, "req", call)
	}
}

// BenchmarkRetry_Execute_Fatal measures the fatal-error path.
func BenchmarkRetry_Execute_Fatal(b *testing.B) {
	r := NewRetry[string, string](RetryConfig{Budget: BudgetConfig{RefillInterval: -1}})
	defer func() { _ = r.Close() }()
	ctx := context.Background()
	fatal := NewProviderError("bad request", 400)
	call := func(ctx context.Context, req string) (string, error) {
		return "", fatal
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Execute(ctx, "req", call)
	}
}
