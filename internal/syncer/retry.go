package syncer

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy configures exponential backoff for per-file processing and
// vector writes.
type RetryPolicy struct {
	Attempts   int           // total attempts, including the first
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // backoff ceiling
	Multiplier float64       // defaults to 2 when unset
}

// withRetry executes fn with exponential backoff. Retry stops early on
// context cancellation or when retryable returns false for the error.
func withRetry(ctx context.Context, policy RetryPolicy, fn func() error, retryable func(error) bool) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := policy.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}

	var lastErr error
	backoff := policy.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * multiplier)
				if policy.MaxDelay > 0 && backoff > policy.MaxDelay {
					backoff = policy.MaxDelay
				}
			}
		}
	}

	return lastErr
}

// retryableFileError reports whether a per-file failure is worth retrying.
// Chunk errors are deterministic (same bytes, same outcome) and context
// cancellation must not spin.
func retryableFileError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *FileError
	if errors.As(err, &fe) && fe.Stage == StageChunk {
		return false
	}
	return true
}
