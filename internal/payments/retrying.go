package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/shelfswap/internal/metrics"
	"github.com/mbd888/shelfswap/internal/retry"
)

// RetryingProcessor wraps a Processor and retries transient failures
// with exponential backoff. Permanent failures pass through on the
// first attempt. Because every call is idempotent by key, retries are
// safe even when the previous attempt may have succeeded server-side.
type RetryingProcessor struct {
	inner       Processor
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// NewRetryingProcessor wraps inner with retry behavior.
func NewRetryingProcessor(inner Processor, maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *RetryingProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingProcessor{
		inner:       inner,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
	}
}

func (r *RetryingProcessor) Capture(ctx context.Context, orderID, amount string) (string, error) {
	var ref string
	err := r.do(ctx, "capture", func() error {
		var err error
		ref, err = r.inner.Capture(ctx, orderID, amount)
		return err
	})
	return ref, err
}

func (r *RetryingProcessor) Refund(ctx context.Context, paymentRef, amount, idempotencyKey string) error {
	return r.do(ctx, "refund", func() error {
		return r.inner.Refund(ctx, paymentRef, amount, idempotencyKey)
	})
}

func (r *RetryingProcessor) Release(ctx context.Context, paymentRef, amount, idempotencyKey string) error {
	return r.do(ctx, "release", func() error {
		return r.inner.Release(ctx, paymentRef, amount, idempotencyKey)
	})
}

func (r *RetryingProcessor) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	err := retry.Do(ctx, r.maxAttempts, r.baseDelay, func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return retry.Permanent(err)
		}
		r.logger.Warn("processor call failed, will retry",
			"op", op,
			"attempt", attempt,
			"error", err)
		return err
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PaymentOperationsTotal.WithLabelValues(op, result).Inc()
	return err
}

var _ Processor = (*RetryingProcessor)(nil)
