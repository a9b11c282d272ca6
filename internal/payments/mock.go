package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mbd888/shelfswap/internal/money"
)

// MockProcessor is an in-memory Processor for tests and demo mode.
// It dedupes refund/release calls by idempotency key and can be
// programmed to fail.
type MockProcessor struct {
	mu sync.Mutex

	captures map[string]string          // paymentRef -> captured amount
	applied  map[string]struct{}        // idempotency keys already consumed
	moved    map[string][]movement      // paymentRef -> refunds/releases applied
	failures map[string]*ProcessorError // op -> programmed failure
	failLeft map[string]int             // op -> remaining failures (0 = always)
}

type movement struct {
	Op     string
	Amount string
	Key    string
}

// NewMockProcessor creates an empty mock processor.
func NewMockProcessor() *MockProcessor {
	return &MockProcessor{
		captures: make(map[string]string),
		applied:  make(map[string]struct{}),
		moved:    make(map[string][]movement),
		failures: make(map[string]*ProcessorError),
		failLeft: make(map[string]int),
	}
}

// FailWith makes op fail with the given error. If times > 0 the
// failure clears after that many calls, simulating a flaky processor.
func (m *MockProcessor) FailWith(op string, perr *ProcessorError, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = perr
	m.failLeft[op] = times
}

func (m *MockProcessor) checkFailure(op string) error {
	if perr, ok := m.failures[op]; ok {
		if m.failLeft[op] > 0 {
			m.failLeft[op]--
			if m.failLeft[op] == 0 {
				delete(m.failures, op)
			}
		}
		return perr
	}
	return nil
}

func (m *MockProcessor) Capture(ctx context.Context, orderID, amount string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkFailure("capture"); err != nil {
		return "", err
	}
	if _, ok := money.Parse(amount); !ok {
		return "", &ProcessorError{Op: "capture", Err: fmt.Errorf("invalid amount %q", amount)}
	}

	ref := "pay_" + uuid.NewString()
	m.captures[ref] = amount
	return ref, nil
}

func (m *MockProcessor) Refund(ctx context.Context, paymentRef, amount, idempotencyKey string) error {
	return m.move(ctx, "refund", paymentRef, amount, idempotencyKey)
}

func (m *MockProcessor) Release(ctx context.Context, paymentRef, amount, idempotencyKey string) error {
	return m.move(ctx, "release", paymentRef, amount, idempotencyKey)
}

func (m *MockProcessor) move(_ context.Context, op, paymentRef, amount, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkFailure(op); err != nil {
		return err
	}
	// Replayed key: already applied, succeed without moving funds again.
	if _, done := m.applied[idempotencyKey]; done {
		return nil
	}
	if _, ok := m.captures[paymentRef]; !ok {
		return &ProcessorError{Op: op, Err: ErrUnknownPaymentRef}
	}
	if _, ok := money.Parse(amount); !ok {
		return &ProcessorError{Op: op, Err: fmt.Errorf("invalid amount %q", amount)}
	}

	m.applied[idempotencyKey] = struct{}{}
	m.moved[paymentRef] = append(m.moved[paymentRef], movement{Op: op, Amount: amount, Key: idempotencyKey})
	return nil
}

// Movements returns the refunds/releases applied against a capture,
// in order. Test helper.
func (m *MockProcessor) Movements(paymentRef string) []movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]movement, len(m.moved[paymentRef]))
	copy(out, m.moved[paymentRef])
	return out
}

// CapturedAmount returns the amount captured under paymentRef.
func (m *MockProcessor) CapturedAmount(paymentRef string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.captures[paymentRef]
	return amount, ok
}

var _ Processor = (*MockProcessor)(nil)
