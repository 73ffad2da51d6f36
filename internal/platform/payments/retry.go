package payments

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds retries of processor calls. Delay grows exponentially
// per attempt: BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy retries transient failures three times starting at one
// second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// retryable reports whether the error is worth retrying. Declines and
// missing payments are permanent; only processor unavailability is
// transient.
func retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Retry runs fn until it succeeds, fails permanently, or attempts run out.
// The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	delay := policy.BaseDelay
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == policy.MaxAttempts {
			return err
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
