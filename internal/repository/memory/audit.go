package memory

import (
	"context"
	"sync"

	"github.com/gatewise/tarmac/internal/audit"
)

// Audit is an in-memory audit chain store. Entries are only ever appended.
type Audit struct {
	mu      sync.RWMutex
	nextID  int64
	entries []*audit.Entry
}

// NewAudit returns an empty store.
func NewAudit() *Audit {
	return &Audit{}
}

var _ audit.Store = (*Audit)(nil)

// Append stores a copy of the entry at the end of the chain.
func (s *Audit) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

// Last returns the chain head, or nil when the chain is empty.
func (s *Audit) Last(_ context.Context) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	cp := *s.entries[len(s.entries)-1]
	return &cp, nil
}

// ListAll returns the full chain in sequence order.
func (s *Audit) ListAll(_ context.Context) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*audit.Entry, len(s.entries))
	for i, e := range s.entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// ListRecent returns the newest entries, oldest first.
func (s *Audit) ListRecent(_ context.Context, limit int) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.entries) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*audit.Entry, 0, len(s.entries)-start)
	for _, e := range s.entries[start:] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Tamper overwrites a stored entry in place. It exists for integrity tests
// and the chain must detect whatever it does.
func (s *Audit) Tamper(index int, mutate func(*audit.Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.entries) {
		mutate(s.entries[index])
	}
}
