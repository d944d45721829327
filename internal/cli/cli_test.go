package cli

import (
	"os"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/config"
)

func policyStore() *config.PolicyStore {
	return config.NewPolicyStore(config.Config{Governance: config.Policy{
		MaxAutoApprove:         10000,
		OpsApprovalThreshold:   50000,
		DailyLimitPerRequester: 5,
		AcceptanceWindow:       90 * time.Second,
		DeliveryWindow:         25 * time.Minute,
	}})
}

func TestReloadOnSignalSwapsPolicy(t *testing.T) {
	store := policyStore()
	t.Setenv("REFUND_MAX_AUTO_APPROVE", "3000")

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGHUP
	close(signals)
	reloadOnSignal(signals, store, zap.NewNop())

	if got := store.Current().MaxAutoApprove; got != 3000 {
		t.Fatalf("MaxAutoApprove = %d, want 3000", got)
	}
}

func TestReloadOnSignalKeepsOldPolicyOnInvalidEnv(t *testing.T) {
	store := policyStore()
	t.Setenv("REFUND_DAILY_LIMIT_PER_REQUESTER", "0")

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGHUP
	close(signals)
	reloadOnSignal(signals, store, zap.NewNop())

	if got := store.Current().DailyLimitPerRequester; got != 5 {
		t.Fatalf("DailyLimitPerRequester = %d, want old value 5", got)
	}
}
