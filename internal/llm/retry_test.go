package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), fastRetry(), "op", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if result != "ok" || calls != 3 {
		t.Errorf("result=%q calls=%d, want ok after 3 calls", result, calls)
	}
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetry(), "op", func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("invalid API key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retryable error retried %d times", calls)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), fastRetry(), "op", func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("429 rate limited")
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("err = %v, want ErrMaxRetriesExceeded", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (initial + 3 retries)", calls)
	}
}

func TestWithRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithRetry(ctx, fastRetry(), "op", func(ctx context.Context) (string, error) {
		return "", errors.New("429")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("429 too many requests"), true},
		{errors.New("rpc error: code = ResourceExhausted"), true},
		{errors.New("resource exhausted"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("model is overloaded"), true},
		{context.DeadlineExceeded, true},
		{errors.New("invalid request"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCalculateBackoffDoublesAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 8 * time.Second}
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second} {
		if got := calculateBackoff(cfg, i); got != want {
			t.Errorf("calculateBackoff(attempt=%d) = %v, want %v", i, got, want)
		}
	}
}

func TestLLMCostByModel(t *testing.T) {
	if cost := LLMCost("gemini-2.0-flash-exp", 1_000_000, 1_000_000); cost != 0 {
		t.Errorf("free preview model cost = %f, want 0", cost)
	}
	cost := LLMCost("gemini-1.5-pro-002", 1_000_000, 1_000_000)
	if want := 1.25 + 5.00; cost != want {
		t.Errorf("pro cost = %f, want %f", cost, want)
	}
	// Unknown models fall back to flash pricing.
	cost = LLMCost("mystery-model", 2_000_000, 0)
	if want := 0.15; fmt.Sprintf("%.4f", cost) != fmt.Sprintf("%.4f", want) {
		t.Errorf("default cost = %f, want %f", cost, want)
	}
}
