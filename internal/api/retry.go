package api

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how patiently a fallible operation is
// reattempted. Delay grows linearly: BaseDelay after the first failure,
// 2*BaseDelay after the second, and so on.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy matches the server's tolerance for repeated calls.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}

func (p RetryPolicy) delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// Retry runs fn up to 1+MaxRetries times, sleeping between attempts, as
// long as transient classifies the failure as retryable. A context
// cancellation during the sleep aborts immediately with the last error.
func Retry[T any](ctx context.Context, policy RetryPolicy, transient func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt > policy.MaxRetries || !transient(err) {
			return zero, err
		}

		timer := time.NewTimer(policy.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
}
