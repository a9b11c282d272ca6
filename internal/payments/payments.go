// Package payments defines the contract the workflow engine requires
// from the external payment processor: capture, refund, release.
//
// All calls are idempotent by key, so a retried call after a timeout
// cannot move funds twice. Failures are classified as transient
// (retryable) or permanent (surfaced to the caller).
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownPaymentRef is returned when a refund/release references a
// capture the processor has no record of.
var ErrUnknownPaymentRef = errors.New("unknown payment reference")

// ProcessorError wraps a failure from the external payment processor.
type ProcessorError struct {
	Op        string // capture, refund, release
	Transient bool   // true for timeouts and 5xx-equivalent failures
	Err       error
}

func (e *ProcessorError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("payment processor %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient processor failure.
func (e *ProcessorError) IsTransient() bool { return e.Transient }

// Transient reports whether err wraps a transient ProcessorError.
func Transient(err error) bool {
	var pe *ProcessorError
	return errors.As(err, &pe) && pe.Transient
}

// Processor is the engine's view of the external payment processor.
//
// Refund and Release carry an idempotency key derived from the order
// and transition that triggered them; replaying a key after a prior
// success must be a no-op returning the original outcome.
type Processor interface {
	Capture(ctx context.Context, orderID, amount string) (paymentRef string, err error)
	Refund(ctx context.Context, paymentRef, amount, idempotencyKey string) error
	Release(ctx context.Context, paymentRef, amount, idempotencyKey string) error
}

// idempotencyNamespace scopes derived keys to this engine.
var idempotencyNamespace = uuid.MustParse("7f1b5a3e-9c41-4a8f-b2d6-4e0e8a1c9d55")

// IdempotencyKey derives a stable key from (orderID, transitionID).
// The same transition always yields the same key, so processor-side
// dedup guards against double refunds on retry.
func IdempotencyKey(orderID, transitionID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(orderID+":"+transitionID)).String()
}
