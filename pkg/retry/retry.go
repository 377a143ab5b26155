package retry

import (
	"context"
	"fmt"
	"time"
)

// Options tunes the backoff schedule for one operation.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// IsRetryable classifies failures. When nil every error is retried;
	// callers should pass a classifier so permanent errors (validation,
	// authorization) fail immediately instead of burning attempts.
	IsRetryable func(error) bool
}

func (o Options) normalized() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	return o
}

// Do runs op with exponential backoff: baseDelay * 2^(attempt-1) between
// attempts. The context aborts the sequence between attempts, so a retry
// loop cannot outlive a cancelled request or a shutting-down process.
// After the final attempt the last cause is returned wrapped.
func Do(ctx context.Context, name string, op func(context.Context) error, opts Options) error {
	_, err := DoValue(ctx, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, name string, op func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	opts = opts.normalized()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s aborted: %w", name, err)
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if opts.IsRetryable != nil && !opts.IsRetryable(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		delay := opts.BaseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s aborted: %w", name, ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", name, opts.MaxAttempts, lastErr)
}
