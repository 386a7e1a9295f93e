package mockprovider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"

	"github.com/jonwraymond/retrybudget/resilience"
)

func TestProvider_Success(t *testing.T) {
	p := New(Config{})

	resp, err := p.Call(context.Background(), &Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Content != "Mock response for: hello" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.TokensUsed != 100 {
		t.Errorf("TokensUsed = %d, want 100", resp.TokensUsed)
	}
	if resp.Model != "mock-model" {
		t.Errorf("Model = %q, want mock-model", resp.Model)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
}

func TestProvider_LongPromptTruncated(t *testing.T) {
	p := New(Config{})
	long := "0123456789012345678901234567890123456789012345678901234567890"

	resp, err := p.Call(context.Background(), &Request{Prompt: long})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if want := "Mock response for: " + long[:50]; resp.Content != want {
		t.Errorf("Content = %q, want %q", resp.Content, want)
	}
}

func TestProvider_Sequence(t *testing.T) {
	p := New(Config{
		Sequence:   []int{429, NetworkFault, 500, Success},
		RetryAfter: 2 * time.Second,
	})
	ctx := context.Background()

	_, err := p.Call(ctx, &Request{})
	var perr *resilience.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("first Call() error = %v, want *ProviderError", err)
	}
	if perr.StatusCode() != 429 || perr.RetryAfter() != 2*time.Second {
		t.Errorf("first error = (%d, %v), want (429, 2s)", perr.StatusCode(), perr.RetryAfter())
	}

	if _, err := p.Call(ctx, &Request{}); err != ErrConnectionReset {
		t.Errorf("second Call() error = %v, want ErrConnectionReset", err)
	}

	_, err = p.Call(ctx, &Request{})
	if !errors.As(err, &perr) || perr.StatusCode() != 500 || perr.RetryAfter() != 0 {
		t.Errorf("third Call() error = %v, want 500 without hint", err)
	}

	if _, err := p.Call(ctx, &Request{}); err != nil {
		t.Errorf("fourth Call() error = %v", err)
	}

	if p.CallCount() != 4 {
		t.Errorf("CallCount() = %d, want 4", p.CallCount())
	}
}

func TestProvider_FailureRate(t *testing.T) {
	p := New(Config{FailureRate: 1, FailureStatus: 502, ErrorMessage: "bad gateway"})

	_, err := p.Call(context.Background(), nil)
	var perr *resilience.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Call() error = %v, want *ProviderError", err)
	}
	if perr.StatusCode() != 502 {
		t.Errorf("StatusCode() = %d, want 502", perr.StatusCode())
	}
	if perr.Error() != "bad gateway" {
		t.Errorf("Error() = %q, want bad gateway", perr.Error())
	}
}

func TestProvider_ResetAndUpdate(t *testing.T) {
	p := New(Config{Sequence: []int{503}})
	ctx := context.Background()

	if _, err := p.Call(ctx, nil); err == nil {
		t.Fatal("Call() error = nil, want scripted failure")
	}

	p.Reset()
	if p.CallCount() != 0 {
		t.Errorf("CallCount() after Reset = %d, want 0", p.CallCount())
	}
	if _, err := p.Call(ctx, nil); err == nil {
		t.Error("Call() after Reset should replay the sequence")
	}

	p.Update(func(c *Config) {
		c.Sequence = []int{Success}
		c.FailureRate = 1
	})
	if _, err := p.Call(ctx, nil); err != nil {
		t.Errorf("Call() after Update error = %v", err)
	}
	if _, err := p.Call(ctx, nil); err == nil {
		t.Error("Call() past the sequence should use FailureRate")
	}
}

func TestProvider_LatencyHonoursContext(t *testing.T) {
	mClock := quartz.NewMock(t)
	p := New(Config{Latency: time.Minute, Clock: mClock})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Call(ctx, nil); err != context.Canceled {
		t.Errorf("Call() error = %v, want context.Canceled", err)
	}
}

func TestProvider_Latency(t *testing.T) {
	p := New(Config{Latency: 20 * time.Millisecond})

	start := time.Now()
	if _, err := p.Call(context.Background(), nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 20ms", elapsed)
	}
}
