package order

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory order store for demo/development mode.
type MemoryStore struct {
	orders      map[string]*Order
	transitions map[string][]*Transition
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]*Order),
		transitions: make(map[string][]*Transition),
	}
}

func (m *MemoryStore) Create(ctx context.Context, order *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, order *Order, transition *Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return ErrConflict
	}

	order.Version++
	cp := *order
	m.orders[order.ID] = &cp

	tcp := *transition
	m.transitions[order.ID] = append(m.transitions[order.ID], &tcp)
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.BuyerID == userID || o.SellerID == userID {
			cp := *o
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status == status {
			cp := *o
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListAutoCompletable(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status == StatusDelivered && o.AutoCompleteAt != nil && o.AutoCompleteAt.Before(before) {
			cp := *o
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListPaymentExpired(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Order
	for _, o := range m.orders {
		if o.Status == StatusPendingPayment && o.PaymentDueAt.Before(before) {
			cp := *o
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Transitions(ctx context.Context, orderID string) ([]*Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.transitions[orderID]
	result := make([]*Transition, len(history))
	for i, t := range history {
		cp := *t
		result[i] = &cp
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
