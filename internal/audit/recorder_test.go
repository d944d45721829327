package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gatewise/tarmac/internal/audit"
	"github.com/gatewise/tarmac/internal/clock"
	"github.com/gatewise/tarmac/internal/repository/memory"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

func newRecorder(t *testing.T) (*audit.Recorder, *memory.Audit) {
	t.Helper()
	store := memory.NewAudit()
	clk := clock.NewManual(time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC))
	return audit.NewRecorder(store, clk, nil), store
}

func TestRecorderChainsEntries(t *testing.T) {
	ctx := context.Background()
	recorder, _ := newRecorder(t)

	var prev string
	for i := 0; i < 4; i++ {
		entry, err := recorder.Record(ctx, "ops-1", audit.CategoryRefund, "refund_approved",
			"refund", "1", nil, map[string]int{"amount": 100 + i})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if entry.PrevHash != prev {
			t.Fatalf("entry %d prev_hash = %q, want %q", i, entry.PrevHash, prev)
		}
		prev = entry.Hash
	}

	result, err := recorder.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Valid || result.Entries != 4 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRecorderRejectsMissingActorOrAction(t *testing.T) {
	ctx := context.Background()
	recorder, _ := newRecorder(t)

	if _, err := recorder.Record(ctx, "", audit.CategoryRefund, "refund_approved",
		"refund", "1", nil, nil); err == nil {
		t.Fatal("expected error for empty actor")
	}
	if _, err := recorder.Record(ctx, "ops-1", audit.CategoryRefund, "",
		"refund", "1", nil, nil); err == nil {
		t.Fatal("expected error for empty action")
	}
}

func TestVerifySurfacesTamperedStore(t *testing.T) {
	ctx := context.Background()
	recorder, store := newRecorder(t)

	for i := 0; i < 3; i++ {
		if _, err := recorder.Record(ctx, "ops-1", audit.CategoryRefund, "refund_approved",
			"refund", "1", nil, map[string]int{"amount": 100}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	store.Tamper(1, func(e *audit.Entry) {
		e.After = json.RawMessage(`{"amount":999999}`)
	})

	result, err := recorder.Verify(ctx)
	if err == nil {
		t.Fatal("expected integrity error")
	}
	if !errorbank.IsKind(err, errorbank.KindIntegrity) {
		t.Fatalf("error kind = %v, want integrity", err)
	}
	if result.Valid || result.BrokenIndex != 1 {
		t.Fatalf("result = %+v, want broken at index 1", result)
	}
}

func TestFeedReturnsRecentEntries(t *testing.T) {
	ctx := context.Background()
	recorder, _ := newRecorder(t)

	for i := 0; i < 5; i++ {
		if _, err := recorder.Record(ctx, "ops-1", audit.CategoryOrder, "order_failed",
			"order", "1", nil, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := recorder.Feed(ctx, 3)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	// Oldest first within the returned window.
	if entries[0].ID >= entries[1].ID || entries[1].ID >= entries[2].ID {
		t.Fatalf("feed not in sequence order: %d, %d, %d", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}
