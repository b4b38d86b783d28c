package services

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/square-key-labs/strawgo-bridge/src/logger"
)

// RetryPolicy bounds retries of a provider call.
type RetryPolicy struct {
	MaxRetries uint64
	Backoff    time.Duration
}

// DefaultRetryPolicy retries a transient failure once after a short pause.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 1, Backoff: 250 * time.Millisecond}

// Retry runs fn, retrying only transient failures within the policy.
// A non-positive Backoff falls back to the default pause.
// The last error is returned unwrapped.
func Retry[T any](ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	attempt := 0
	if policy.Backoff <= 0 {
		policy.Backoff = DefaultRetryPolicy.Backoff
	}
	backoff := retry.WithMaxRetries(policy.MaxRetries, retry.NewConstant(policy.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		if IsTransient(err) {
			logger.Warn("[Retry] %s attempt %d failed: %v", op, attempt, err)
			return retry.RetryableError(err)
		}
		return err
	})
	return result, err
}
