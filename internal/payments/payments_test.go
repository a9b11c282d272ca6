package payments

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestIdempotencyKey_Stable(t *testing.T) {
	k1 := IdempotencyKey("ord_1", "trn_5")
	k2 := IdempotencyKey("ord_1", "trn_5")
	if k1 != k2 {
		t.Errorf("same inputs produced different keys: %s vs %s", k1, k2)
	}
	if k1 == IdempotencyKey("ord_1", "trn_6") {
		t.Error("different transitions produced the same key")
	}
}

func TestMockProcessor_RefundIdempotent(t *testing.T) {
	m := NewMockProcessor()
	ctx := context.Background()

	ref, err := m.Capture(ctx, "ord_1", "17.45")
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	key := IdempotencyKey("ord_1", "trn_1")
	if err := m.Refund(ctx, ref, "17.45", key); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	// Replay with the same key must succeed without a second movement.
	if err := m.Refund(ctx, ref, "17.45", key); err != nil {
		t.Fatalf("replayed Refund failed: %v", err)
	}
	if got := len(m.Movements(ref)); got != 1 {
		t.Errorf("movements = %d, want 1", got)
	}
}

func TestMockProcessor_UnknownRef(t *testing.T) {
	m := NewMockProcessor()
	err := m.Release(context.Background(), "pay_missing", "5.00", "k1")
	if !errors.Is(err, ErrUnknownPaymentRef) {
		t.Errorf("Release on unknown ref = %v, want ErrUnknownPaymentRef", err)
	}
}

func TestTransient_Classification(t *testing.T) {
	transient := &ProcessorError{Op: "refund", Transient: true, Err: errors.New("timeout")}
	permanent := &ProcessorError{Op: "refund", Err: errors.New("card declined")}

	if !Transient(transient) {
		t.Error("transient error not classified as transient")
	}
	if Transient(permanent) {
		t.Error("permanent error classified as transient")
	}
	if Transient(errors.New("plain")) {
		t.Error("plain error classified as transient")
	}
}

func TestRetryingProcessor_RetriesTransient(t *testing.T) {
	m := NewMockProcessor()
	ctx := context.Background()

	ref, err := m.Capture(ctx, "ord_1", "10.00")
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	// Fail twice transiently, then succeed on the third attempt.
	m.FailWith("refund", &ProcessorError{Op: "refund", Transient: true, Err: errors.New("503")}, 2)

	r := NewRetryingProcessor(m, 5, time.Millisecond, slog.Default())
	if err := r.Refund(ctx, ref, "10.00", "k1"); err != nil {
		t.Fatalf("Refund after transient failures = %v, want nil", err)
	}
	if got := len(m.Movements(ref)); got != 1 {
		t.Errorf("movements = %d, want 1", got)
	}
}

func TestRetryingProcessor_PermanentNotRetried(t *testing.T) {
	m := NewMockProcessor()
	ctx := context.Background()

	ref, _ := m.Capture(ctx, "ord_1", "10.00")
	m.FailWith("refund", &ProcessorError{Op: "refund", Err: errors.New("card declined")}, 0)

	r := NewRetryingProcessor(m, 5, time.Millisecond, slog.Default())
	err := r.Refund(ctx, ref, "10.00", "k1")
	if err == nil {
		t.Fatal("expected permanent failure to surface")
	}
	var pe *ProcessorError
	if !errors.As(err, &pe) || pe.Transient {
		t.Errorf("err = %v, want permanent ProcessorError", err)
	}
}
