package audit

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/clock"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

// Store is the persistence contract for the chain. Append is the only write;
// there is deliberately no update or delete.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Last(ctx context.Context) (*Entry, error)
	ListAll(ctx context.Context) ([]*Entry, error)
	ListRecent(ctx context.Context, limit int) ([]*Entry, error)
}

// Recorder appends hash-chained entries. Appends are serialized so two
// concurrent records cannot both claim the same chain head.
type Recorder struct {
	mu     sync.Mutex
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// Module provides the Recorder to Fx.
var Module = fx.Provide(NewRecorder)

// NewRecorder wires a Recorder over the configured store.
func NewRecorder(store Store, clk clock.Clock, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, clock: clk, logger: logger}
}

// Record appends one entry, computing its hash from the current chain head.
// Before and after payloads are serialized to JSON; a nil payload is omitted.
func (r *Recorder) Record(ctx context.Context, actor string, category Category, action, entityType, entityID string, before, after any) (*Entry, error) {
	if actor == "" || action == "" {
		return nil, errorbank.Validation("audit entries require an actor and an action")
	}

	beforeJSON, err := marshalPayload(before)
	if err != nil {
		return nil, errorbank.Internal("marshal audit before payload", errorbank.WithCause(err))
	}
	afterJSON, err := marshalPayload(after)
	if err != nil {
		return nil, errorbank.Internal("marshal audit after payload", errorbank.WithCause(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	last, err := r.store.Last(ctx)
	if err != nil {
		return nil, err
	}
	prevHash := ""
	if last != nil {
		prevHash = last.Hash
	}

	entry := &Entry{
		PrevHash:   prevHash,
		Actor:      actor,
		Category:   category,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     beforeJSON,
		After:      afterJSON,
		At:         r.clock.Now(),
	}
	entry.Hash = entry.ComputeHash()

	if err := r.store.Append(ctx, entry); err != nil {
		return nil, err
	}
	if r.logger != nil {
		r.logger.Debug("audit entry recorded",
			zap.String("category", string(category)),
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
		)
	}
	return entry, nil
}

// Verify re-walks the stored chain. A broken chain is surfaced as an
// integrity error carrying the broken index; it must reach a human operator.
func (r *Recorder) Verify(ctx context.Context) (VerifyResult, error) {
	entries, err := r.store.ListAll(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	result := VerifyChain(entries)
	if !result.Valid {
		return result, errorbank.Integrity("audit chain is broken",
			errorbank.WithDetail("broken_index", result.BrokenIndex),
			errorbank.WithDetail("entries", result.Entries))
	}
	return result, nil
}

// Feed returns the most recent entries for the compliance viewer.
func (r *Recorder) Feed(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.store.ListRecent(ctx, limit)
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
