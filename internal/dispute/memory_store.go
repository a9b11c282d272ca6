package dispute

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory dispute store for demo/development mode.
type MemoryStore struct {
	disputes map[string]*Dispute
	messages map[string][]*Message
	evidence map[string][]*Evidence
	nextSeq  map[string]int
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		messages: make(map[string][]*Message),
		evidence: make(map[string][]*Evidence),
		nextSeq:  make(map[string]int),
	}
}

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetOpenByOrder(ctx context.Context, orderID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.disputes {
		if d.OrderID == orderID && d.Status != StatusResolved {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrDisputeNotFound
}

func (m *MemoryStore) Update(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Dispute
	for _, d := range m.disputes {
		if d.Status == status {
			cp := *d
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Dispute
	for _, d := range m.disputes {
		if d.BuyerID == userID || d.SellerID == userID {
			cp := *d
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) ListEscalatable(ctx context.Context, before time.Time, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Dispute
	for _, d := range m.disputes {
		if d.Status == StatusOpened && d.EscalateAt.Before(before) {
			cp := *d
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[msg.DisputeID]; !ok {
		return ErrDisputeNotFound
	}

	m.nextSeq[msg.DisputeID]++
	msg.Seq = m.nextSeq[msg.DisputeID]

	cp := *msg
	m.messages[msg.DisputeID] = append(m.messages[msg.DisputeID], &cp)
	return nil
}

func (m *MemoryStore) Messages(ctx context.Context, disputeID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[disputeID]
	result := make([]*Message, len(stored))
	for i, msg := range stored {
		cp := *msg
		result[i] = &cp
	}
	return result, nil
}

func (m *MemoryStore) AddEvidence(ctx context.Context, e *Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[e.DisputeID]; !ok {
		return ErrDisputeNotFound
	}
	for _, existing := range m.evidence[e.DisputeID] {
		if existing.SHA256 == e.SHA256 {
			return ErrDuplicateEvidence
		}
	}

	cp := *e
	m.evidence[e.DisputeID] = append(m.evidence[e.DisputeID], &cp)
	return nil
}

func (m *MemoryStore) ListEvidence(ctx context.Context, disputeID string) ([]*Evidence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.evidence[disputeID]
	result := make([]*Evidence, len(stored))
	for i, e := range stored {
		cp := *e
		result[i] = &cp
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
