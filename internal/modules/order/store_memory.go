// README: In-memory order store for local runs and tests; same conditional-write semantics as the Postgres store.
package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quickcart/internal/types"
)

type MemoryStore struct {
	mu     sync.RWMutex
	seq    int
	orders map[types.ID]*Order
	events map[types.ID][]Event
	nextEv int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[types.ID]*Order),
		events: make(map[types.ID][]Event),
	}
}

var _ Repository = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	m.seq++
	o.OrderNumber = fmt.Sprintf("QC%06d", m.seq)
	m.orders[o.ID] = o.Clone()
	m.appendEventLocked(Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   o.Status,
		ActorType:  ActorCustomer,
		ActorID:    &o.UserID,
		CreatedAt:  o.CreatedAt,
	})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) CompareAndSetStatus(_ context.Context, u StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[u.OrderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != u.ExpectedStatus || o.StatusVersion != u.ExpectedVersion {
		return ErrConcurrentModification
	}
	o.Status = u.NewStatus
	o.StatusVersion++
	o.UpdatedAt = u.UpdatedAt
	o.RejectionReason = nil
	if u.RejectionReason != nil {
		r := *u.RejectionReason
		o.RejectionReason = &r
	}
	m.appendEventLocked(u.Event)
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID types.ID, limit int) ([]*Order, error) {
	return m.filter(limit, byCreatedDesc, func(o *Order) bool { return o.UserID == userID }), nil
}

func (m *MemoryStore) ListActive(_ context.Context, limit int) ([]*Order, error) {
	return m.filter(limit, byCreatedDesc, func(o *Order) bool { return !o.Status.Terminal() }), nil
}

func (m *MemoryStore) ListStale(_ context.Context, status Status, olderThan time.Time, limit int) ([]*Order, error) {
	return m.filter(limit, byUpdatedAsc, func(o *Order) bool {
		return o.Status == status && o.UpdatedAt.Before(olderThan)
	}), nil
}

func (m *MemoryStore) Events(_ context.Context, id types.ID) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events[id]...), nil
}

func (m *MemoryStore) appendEventLocked(e Event) {
	m.nextEv++
	e.ID = m.nextEv
	m.events[e.OrderID] = append(m.events[e.OrderID], e)
}

func byCreatedDesc(a, b *Order) bool { return a.CreatedAt.After(b.CreatedAt) }
func byUpdatedAsc(a, b *Order) bool  { return a.UpdatedAt.Before(b.UpdatedAt) }

func (m *MemoryStore) filter(limit int, less func(a, b *Order) bool, keep func(*Order) bool) []*Order {
	m.mu.RLock()
	var out []*Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
