package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"prospector/internal/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration (doubles each retry)
	MaxBackoff     time.Duration // Maximum backoff duration
}

// DefaultRetryConfig returns the defaults for model calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) (string, error)

// ErrMaxRetriesExceeded indicates all retry attempts failed.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// IsRetryable reports whether an error looks like a transient vendor
// failure (rate limit, overload, timeout) worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "resource exhausted", "resourceexhausted",
		"500", "502", "503", "504", "internal error", "unavailable",
		"overloaded", "timeout", "deadline exceeded", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithRetry executes a function with exponential backoff retry.
// Non-retryable errors fail immediately; retryable ones back off and try
// again until the budget is exhausted.
func WithRetry(ctx context.Context, config RetryConfig, operation string, fn RetryableFunc) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logging.API("Retry succeeded for %s on attempt %d", operation, attempt+1)
			}
			return result, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		logging.API("Attempt %d/%d for %s failed: %v", attempt+1, config.MaxRetries+1, operation, err)

		if attempt < config.MaxRetries {
			backoff := calculateBackoff(config, attempt)
			logging.APIDebug("Retrying %s in %v...", operation, backoff)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("%w for %s: %v", ErrMaxRetriesExceeded, operation, lastErr)
}

// calculateBackoff computes exponential backoff: initial * 2^attempt,
// capped at the configured maximum.
func calculateBackoff(config RetryConfig, attempt int) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	return time.Duration(backoff)
}
