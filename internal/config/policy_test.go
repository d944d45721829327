package config

import (
	"testing"
	"time"
)

func TestPolicyStoreSwap(t *testing.T) {
	cfg := Config{Governance: Policy{
		MaxAutoApprove:         10000,
		OpsApprovalThreshold:   50000,
		DailyLimitPerRequester: 5,
		AcceptanceWindow:       90 * time.Second,
		DeliveryWindow:         25 * time.Minute,
	}}
	store := NewPolicyStore(cfg)

	if got := store.Current().MaxAutoApprove; got != 10000 {
		t.Fatalf("MaxAutoApprove = %d, want 10000", got)
	}

	next := cfg.Governance
	next.MaxAutoApprove = 2500
	old, err := store.Swap(next)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if old.MaxAutoApprove != 10000 {
		t.Fatalf("old MaxAutoApprove = %d", old.MaxAutoApprove)
	}
	if got := store.Current().MaxAutoApprove; got != 2500 {
		t.Fatalf("MaxAutoApprove after swap = %d, want 2500", got)
	}
}

func TestPolicyStoreSwapRejectsInvalid(t *testing.T) {
	cfg := Config{Governance: Policy{
		MaxAutoApprove:         10000,
		OpsApprovalThreshold:   50000,
		DailyLimitPerRequester: 5,
		AcceptanceWindow:       90 * time.Second,
		DeliveryWindow:         25 * time.Minute,
	}}
	store := NewPolicyStore(cfg)

	bad := cfg.Governance
	bad.DailyLimitPerRequester = 0
	if _, err := store.Swap(bad); err == nil {
		t.Fatal("expected error for invalid policy")
	}
	// The old snapshot stays active.
	if got := store.Current().DailyLimitPerRequester; got != 5 {
		t.Fatalf("DailyLimitPerRequester = %d, want 5", got)
	}
}

func TestPolicyStoreReloadFromEnv(t *testing.T) {
	t.Setenv("REFUND_MAX_AUTO_APPROVE", "3000")
	t.Setenv("REFUND_OPS_THRESHOLD", "40000")
	t.Setenv("REFUND_DAILY_LIMIT_PER_REQUESTER", "3")
	t.Setenv("SLA_ACCEPTANCE_WINDOW", "2m")
	t.Setenv("SLA_DELIVERY_WINDOW", "30m")

	store := NewPolicyStore(Config{Governance: loadPolicy()})
	p, err := store.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if p.MaxAutoApprove != 3000 || p.DailyLimitPerRequester != 3 {
		t.Fatalf("reloaded policy = %+v", p)
	}
	if p.AcceptanceWindow != 2*time.Minute {
		t.Fatalf("AcceptanceWindow = %v", p.AcceptanceWindow)
	}
}

func TestPolicyStoreReloadKeepsOldOnError(t *testing.T) {
	store := NewPolicyStore(Config{Governance: Policy{
		MaxAutoApprove:         10000,
		OpsApprovalThreshold:   50000,
		DailyLimitPerRequester: 5,
		AcceptanceWindow:       90 * time.Second,
		DeliveryWindow:         25 * time.Minute,
	}})

	t.Setenv("REFUND_DAILY_LIMIT_PER_REQUESTER", "0")
	if _, err := store.Reload(); err == nil {
		t.Fatal("expected error for zero daily limit")
	}
	if got := store.Current().DailyLimitPerRequester; got != 5 {
		t.Fatalf("DailyLimitPerRequester = %d, want old value 5", got)
	}
}
