package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/mbd888/shelfswap/internal/money"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
// It implements both Store and EventStore.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*balanceState
	holds    map[string]*big.Int // reference (order ID) -> remaining hold
	entries  []*Entry
	events   []*Event
	nextID   int64
}

type balanceState struct {
	available *big.Int
	held      *big.Int
	totalIn   *big.Int
	totalOut  *big.Int
	updatedAt time.Time
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*balanceState),
		holds:    make(map[string]*big.Int),
	}
}

func (m *MemoryStore) account(userID string) *balanceState {
	b, ok := m.balances[userID]
	if !ok {
		b = &balanceState{
			available: big.NewInt(0),
			held:      big.NewInt(0),
			totalIn:   big.NewInt(0),
			totalOut:  big.NewInt(0),
		}
		m.balances[userID] = b
	}
	return b
}

func (m *MemoryStore) append(userID, entryType, amount, reference, counterparty string) {
	m.nextID++
	now := time.Now()
	m.entries = append(m.entries, &Entry{
		ID: m.nextID, UserID: userID, Type: entryType, Amount: amount,
		Reference: reference, Counterparty: counterparty, CreatedAt: now,
	})
	m.events = append(m.events, &Event{
		ID: m.nextID, UserID: userID, EventType: entryType, Amount: amount,
		Reference: reference, Counterparty: counterparty, CreatedAt: now,
	})
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[userID]
	if !ok {
		return &Balance{
			UserID: userID, Available: "0.00", Held: "0.00",
			TotalIn: "0.00", TotalOut: "0.00",
		}, nil
	}
	return &Balance{
		UserID:    userID,
		Available: money.Format(b.available),
		Held:      money.Format(b.held),
		TotalIn:   money.Format(b.totalIn),
		TotalOut:  money.Format(b.totalOut),
		UpdatedAt: b.updatedAt,
	}, nil
}

func (m *MemoryStore) Hold(ctx context.Context, buyerID, amount, reference string) error {
	amt, ok := money.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.holds[reference]; exists {
		return ErrDuplicateHold
	}

	b := m.account(buyerID)
	b.held.Add(b.held, amt)
	b.totalIn.Add(b.totalIn, amt)
	b.updatedAt = time.Now()
	m.holds[reference] = new(big.Int).Set(amt)

	m.append(buyerID, "hold", money.Format(amt), reference, "")
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, buyerID, sellerID, amount, reference string) error {
	amt, ok := money.Parse(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.consumeHold(reference, amt); err != nil {
		return err
	}

	buyer := m.account(buyerID)
	buyer.held.Sub(buyer.held, amt)
	buyer.totalOut.Add(buyer.totalOut, amt)
	buyer.updatedAt = time.Now()

	seller := m.account(sellerID)
	seller.available.Add(seller.available, amt)
	seller.totalIn.Add(seller.totalIn, amt)
	seller.updatedAt = time.Now()

	m.append(buyerID, "release_out", money.Format(amt), reference, sellerID)
	m.append(sellerID, "release_in", money.Format(amt), reference, buyerID)
	return nil
}

func (m *MemoryStore) Refund(ctx context.Context, buyerID, amount, reference string) error {
	amt, ok := money.Parse(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.consumeHold(reference, amt); err != nil {
		return err
	}

	b := m.account(buyerID)
	b.held.Sub(b.held, amt)
	b.totalOut.Add(b.totalOut, amt)
	b.updatedAt = time.Now()

	m.append(buyerID, "refund", money.Format(amt), reference, "")
	return nil
}

func (m *MemoryStore) Split(ctx context.Context, buyerID, sellerID, refundAmount, releaseAmount, reference string) error {
	refund, ok1 := money.Parse(refundAmount)
	release, ok2 := money.Parse(releaseAmount)
	if !ok1 || !ok2 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := new(big.Int).Add(refund, release)
	if err := m.consumeHold(reference, total); err != nil {
		return err
	}

	buyer := m.account(buyerID)
	buyer.held.Sub(buyer.held, total)
	buyer.totalOut.Add(buyer.totalOut, total)
	buyer.updatedAt = time.Now()

	if release.Sign() > 0 {
		seller := m.account(sellerID)
		seller.available.Add(seller.available, release)
		seller.totalIn.Add(seller.totalIn, release)
		seller.updatedAt = time.Now()

		m.append(buyerID, "release_out", money.Format(release), reference, sellerID)
		m.append(sellerID, "release_in", money.Format(release), reference, buyerID)
	}
	if refund.Sign() > 0 {
		m.append(buyerID, "refund", money.Format(refund), reference, "")
	}
	return nil
}

// consumeHold verifies the amount matches the remaining hold and removes it.
// Caller must hold m.mu.
func (m *MemoryStore) consumeHold(reference string, amt *big.Int) error {
	held, ok := m.holds[reference]
	if !ok {
		return ErrHoldNotFound
	}
	if held.Cmp(amt) != 0 {
		return ErrHoldMismatch
	}
	delete(m.holds, reference)
	return nil
}

func (m *MemoryStore) HeldAmount(ctx context.Context, reference string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	held, ok := m.holds[reference]
	if !ok {
		return "", ErrHoldNotFound
	}
	return money.Format(held), nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	event.ID = m.nextID
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, userID string, since time.Time) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetAllUsers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	for _, e := range m.events {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			users = append(users, e.UserID)
		}
	}
	return users, nil
}

// Compile-time assertions.
var (
	_ Store      = (*MemoryStore)(nil)
	_ EventStore = (*MemoryStore)(nil)
)
