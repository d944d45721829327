// Package memory provides in-memory implementations of the repository
// contracts. They back the unit tests; the engine itself only ever sees the
// Store interfaces.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gatewise/tarmac/internal/entity"
	orderrepo "github.com/gatewise/tarmac/internal/repository/order"
)

// Orders is an in-memory order store with the same optimistic versioning
// behavior as the bun repository.
type Orders struct {
	mu      sync.RWMutex
	nextID  int64
	nextEvt int64
	orders  map[int64]*entity.Order
	events  map[int64][]*entity.EventLogEntry
}

// NewOrders returns an empty store.
func NewOrders() *Orders {
	return &Orders{
		orders: make(map[int64]*entity.Order),
		events: make(map[int64][]*entity.EventLogEntry),
	}
}

var _ orderrepo.Store = (*Orders)(nil)

// Create assigns ids and stores a copy of the order. Like the bun
// repository, a duplicate number is reported as ErrNumberTaken.
func (s *Orders) Create(_ context.Context, order *entity.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Number == order.Number {
			return orderrepo.ErrNumberTaken
		}
	}
	s.nextID++
	order.ID = s.nextID
	for _, item := range order.Items {
		item.OrderID = order.ID
	}
	s.orders[order.ID] = copyOrder(order)
	return nil
}

// GetByID returns a fresh copy with its event log attached.
func (s *Orders) GetByID(_ context.Context, id int64) (*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.orders[id]
	if !ok {
		return nil, orderrepo.ErrNotFound
	}
	out := copyOrder(stored)
	out.Events = append([]*entity.EventLogEntry(nil), s.events[id]...)
	return out, nil
}

// Update applies the order guarded by the expected version.
func (s *Orders) Update(_ context.Context, order *entity.Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[order.ID]
	if !ok {
		return orderrepo.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return orderrepo.ErrVersionConflict
	}
	order.Version = expectedVersion + 1
	s.orders[order.ID] = copyOrder(order)
	return nil
}

// AppendEvent appends to the order's log. Append is the only mutator.
func (s *Orders) AppendEvent(_ context.Context, event *entity.EventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvt++
	event.ID = s.nextEvt
	s.events[event.OrderID] = append(s.events[event.OrderID], event)
	return nil
}

// ListEvents returns the full ordered sequence for an order.
func (s *Orders) ListEvents(_ context.Context, orderID int64) ([]*entity.EventLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*entity.EventLogEntry(nil), s.events[orderID]...), nil
}

// ListActive returns non-terminal orders ordered by id.
func (s *Orders) ListActive(_ context.Context) ([]*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.Order
	for _, o := range s.orders {
		if o.Status.IsActive() {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListClosedByMerchant returns a merchant's terminal orders ordered by id.
func (s *Orders) ListClosedByMerchant(_ context.Context, merchantID string) ([]*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.Order
	for _, o := range s.orders {
		if o.MerchantID == merchantID && o.Status.IsTerminal() {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// NextNumber allocates a per-UTC-day sequential order number.
func (s *Orders) NextNumber(_ context.Context, now time.Time) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := now.UTC().Truncate(24 * time.Hour)
	count := 0
	for _, o := range s.orders {
		if !o.CreatedAt.Before(day) {
			count++
		}
	}
	return fmt.Sprintf("ORD-%s-%04d", day.Format("20060102"), count+1), nil
}

func copyOrder(o *entity.Order) *entity.Order {
	out := *o
	out.Items = make([]*entity.OrderItem, len(o.Items))
	for i, item := range o.Items {
		cp := *item
		cp.Modifiers = append([]entity.Modifier(nil), item.Modifiers...)
		out.Items[i] = &cp
	}
	out.Events = nil
	out.AcceptedAt = copyTime(o.AcceptedAt)
	out.PreparingStartedAt = copyTime(o.PreparingStartedAt)
	out.ReadyAt = copyTime(o.ReadyAt)
	out.DeliveredAt = copyTime(o.DeliveredAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
