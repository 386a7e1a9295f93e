package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithAttemptTimeout_Success(t *testing.T) {
	call := WithAttemptTimeout(time.Second, func(ctx context.Context, req string) (string, error) {
		return req + "!", nil
	})

	got, err := call(context.Background(), "hi")
	if err != nil {
		t.Errorf("call error = %v", err)
	}
	if got != "hi!" {
		t.Errorf("call = %q, want hi!", got)
	}
}

func TestWithAttemptTimeout_PassesErrorsThrough(t *testing.T) {
	testErr := errors.New("test error")
	call := WithAttemptTimeout(time.Second, func(ctx context.Context, req string) (string, error) {
		return "", testErr
	})

	if _, err := call(context.Background(), "req"); err != testErr {
		t.Errorf("call error = %v, want %v", err, testErr)
	}
}

func TestWithAttemptTimeout_Timeout(t *testing.T) {
	call := WithAttemptTimeout(10*time.Millisecond, func(ctx context.Context, req string) (string, error) {
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	})

	if _, err := call(context.Background(), "req"); err != ErrAttemptTimeout {
		t.Errorf("call error = %v, want ErrAttemptTimeout", err)
	}
}

func TestWithAttemptTimeout_CallObservesDeadline(t *testing.T) {
	call := WithAttemptTimeout(20*time.Millisecond, func(ctx context.Context, req string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := call(context.Background(), "req")
	if !errors.Is(err, ErrAttemptTimeout) {
		t.Errorf("call error = %v, want ErrAttemptTimeout", err)
	}
}

func TestWithAttemptTimeout_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	call := WithAttemptTimeout(time.Second, func(ctx context.Context, req string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})

	if _, err := call(ctx, "req"); err != context.Canceled {
		t.Errorf("call error = %v, want context.Canceled", err)
	}
}

func TestWithAttemptTimeout_ZeroIsPassThrough(t *testing.T) {
	var calls atomic.Int64
	inner := scripted(&calls)
	call := WithAttemptTimeout(0, inner)

	if _, err := call(context.Background(), "req"); err != nil {
		t.Errorf("call error = %v", err)
	}
}

func TestWithTimeout_TimedOutAttemptIsRetried(t *testing.T) {
	r := newTestRetry(t, fastConfig(), WithTimeout(20*time.Millisecond))

	var calls atomic.Int64
	res, err := r.Execute(context.Background(), "req", func(ctx context.Context, req string) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}
