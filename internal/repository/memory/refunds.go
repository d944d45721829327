package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gatewise/tarmac/internal/entity"
	refundrepo "github.com/gatewise/tarmac/internal/repository/refund"
)

// Refunds is an in-memory refund store.
type Refunds struct {
	mu      sync.RWMutex
	nextID  int64
	refunds map[int64]*entity.Refund
}

// NewRefunds returns an empty store.
func NewRefunds() *Refunds {
	return &Refunds{refunds: make(map[int64]*entity.Refund)}
}

var _ refundrepo.Store = (*Refunds)(nil)

// Create assigns an id and stores a copy of the refund.
func (s *Refunds) Create(_ context.Context, refund *entity.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	refund.ID = s.nextID
	cp := *refund
	s.refunds[refund.ID] = &cp
	return nil
}

// GetByID returns a fresh copy.
func (s *Refunds) GetByID(_ context.Context, id int64) (*entity.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.refunds[id]
	if !ok {
		return nil, refundrepo.ErrNotFound
	}
	cp := *stored
	return &cp, nil
}

// Update writes a resolved refund back.
func (s *Refunds) Update(_ context.Context, refund *entity.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refunds[refund.ID]; !ok {
		return refundrepo.ErrNotFound
	}
	cp := *refund
	s.refunds[refund.ID] = &cp
	return nil
}

// CountForRequesterSince counts requests by one requester since the instant.
func (s *Refunds) CountForRequesterSince(_ context.Context, requester string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.refunds {
		if r.RequestedBy == requester && !r.RequestedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
