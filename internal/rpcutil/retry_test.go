package rpcutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() retryConfig {
	return retryConfig{maxRetries: 3, baseDelay: time.Millisecond}
}

func TestWithRetryCustom_SucceedsWithoutRetryingOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := WithRetryCustom(context.Background(), fastRetryConfig(), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("WithRetryCustom() error = %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %q, want ok", result)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithRetryCustom_RetriesTransientErrorsThenSucceeds(t *testing.T) {
	calls := 0
	result, err := WithRetryCustom(context.Background(), fastRetryConfig(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset by peer")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("WithRetryCustom() error = %v", err)
	}
	if result != 42 {
		t.Fatalf("result = %d, want 42", result)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryCustom_StopsAfterMaxRetries(t *testing.T) {
	calls := 0
	cfg := retryConfig{maxRetries: 2, baseDelay: time.Millisecond}
	_, err := WithRetryCustom(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("WithRetryCustom() should return the last error once retries are exhausted")
	}
	if calls != cfg.maxRetries+1 {
		t.Fatalf("calls = %d, want %d (initial attempt + retries)", calls, cfg.maxRetries+1)
	}
}

func TestWithRetryCustom_DoesNotRetryNonRetryableError(t *testing.T) {
	calls := 0
	_, err := WithRetryCustom(context.Background(), fastRetryConfig(), func() (int, error) {
		calls++
		return 0, errors.New("invalid signature")
	})
	if err == nil {
		t.Fatal("WithRetryCustom() should propagate the error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (non-retryable error should not be retried)", calls)
	}
}

func TestWithRetryCustom_StopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := WithRetryCustom(ctx, fastRetryConfig(), func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("WithRetryCustom() should return an error once the context is cancelled")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (should stop retrying once context is cancelled)", calls)
	}
}

func TestWithRetry_UsesDefaultConfig(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), func() (int, error) {
		calls++
		return 7, nil
	})
	if err != nil {
		t.Fatalf("WithRetry() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timeout", errors.New("context deadline exceeded: timeout"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"429", errors.New("HTTP 429 too many requests"), true},
		{"502 bad gateway", errors.New("502 bad gateway"), true},
		{"service unavailable", errors.New("503 service unavailable"), true},
		{"non-retryable", errors.New("invalid nonce"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isRetryableError(c.err); got != c.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
