// Package retry implements bounded retries with exponential backoff,
// used for outbound calls to the payment processor and webhook targets.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// PermanentError marks an error that must not be retried, such as a
// declined charge or a 4xx response.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops immediately and returns it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do runs fn up to maxAttempts times. After each failure it sleeps the
// current delay with jitter, then doubles it. It returns early on success,
// on a permanent error (unwrapped), or when ctx is cancelled.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := baseDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(lastErr, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withJitter(delay)):
		}
		delay *= 2
	}
}

// withJitter spreads a delay across [0.75d, 1.25d) so synchronized
// callers do not retry in lockstep.
func withJitter(d time.Duration) time.Duration {
	spread := d / 2
	if spread <= 0 {
		return d
	}
	return d - d/4 + time.Duration(rand.Int63n(int64(spread)))
}
