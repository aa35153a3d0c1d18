package chatplatform

import (
	"context"
	"errors"
	"time"

	"github.com/pollbot/pollbot/internal/pollerr"
)

// MaxAttempts bounds how many times WithRetry calls op, for both rate
// limits and retryable transport errors.
const MaxAttempts = 3

// RateLimitError carries the server-advised delay before retrying, so the
// adapter backs off for exactly as long as the platform asked rather than
// guessing.
type RateLimitError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

// WithRetry runs op up to MaxAttempts times. A RateLimitError is retried
// after its server-advised delay; an error pollerr.IsRetryable accepts is
// retried after an exponential backoff starting at 200ms (200ms, then 400ms
// with three attempts). Any other error, including KindPermission,
// KindValidation and KindNotFound, is returned at once without a retry.
func WithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var rl *RateLimitError
		switch {
		case errors.As(err, &rl):
			if attempt == MaxAttempts {
				return err
			}
			if !sleep(ctx, rl.RetryAfter) {
				return ctx.Err()
			}
			continue
		case pollerr.IsPermission(err):
			return err
		case pollerr.KindOf(err) == pollerr.KindValidation:
			return err
		case pollerr.IsRetryable(err):
			if attempt == MaxAttempts {
				return err
			}
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			continue
		default:
			return err
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
