package config

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Policy groups the refund governance and SLA knobs. Monetary thresholds are
// minor units of the order currency.
type Policy struct {
	MaxAutoApprove         int64
	OpsApprovalThreshold   int64
	DailyLimitPerRequester int
	AcceptanceWindow       time.Duration
	DeliveryWindow         time.Duration
}

func loadPolicy() Policy {
	return Policy{
		MaxAutoApprove:         getEnvAsInt64("REFUND_MAX_AUTO_APPROVE", 10000),
		OpsApprovalThreshold:   getEnvAsInt64("REFUND_OPS_THRESHOLD", 50000),
		DailyLimitPerRequester: getEnvAsInt("REFUND_DAILY_LIMIT_PER_REQUESTER", 5),
		AcceptanceWindow:       getEnvAsDuration("SLA_ACCEPTANCE_WINDOW", 90*time.Second),
		DeliveryWindow:         getEnvAsDuration("SLA_DELIVERY_WINDOW", 25*time.Minute),
	}
}

func (p Policy) validate() error {
	if p.MaxAutoApprove < 0 {
		return fmt.Errorf("REFUND_MAX_AUTO_APPROVE must be non-negative")
	}
	if p.OpsApprovalThreshold < 0 {
		return fmt.Errorf("REFUND_OPS_THRESHOLD must be non-negative")
	}
	if p.DailyLimitPerRequester <= 0 {
		return fmt.Errorf("REFUND_DAILY_LIMIT_PER_REQUESTER must be positive")
	}
	if p.AcceptanceWindow <= 0 {
		return fmt.Errorf("SLA_ACCEPTANCE_WINDOW must be positive")
	}
	if p.DeliveryWindow <= 0 {
		return fmt.Errorf("SLA_DELIVERY_WINDOW must be positive")
	}
	return nil
}

// PolicyStore holds the current governance policy behind an atomic pointer so
// a reload never disturbs in-flight order processing: each operation reads one
// immutable snapshot and works with it to completion.
type PolicyStore struct {
	current atomic.Pointer[Policy]
}

// NewPolicyStore seeds the store from the loaded configuration.
func NewPolicyStore(cfg Config) *PolicyStore {
	s := &PolicyStore{}
	p := cfg.Governance
	s.current.Store(&p)
	return s
}

// Current returns the active policy snapshot.
func (s *PolicyStore) Current() Policy {
	return *s.current.Load()
}

// Reload re-reads the governance knobs from the environment and swaps them in.
// Returns the new snapshot, or an error leaving the old snapshot in place.
func (s *PolicyStore) Reload() (Policy, error) {
	p := loadPolicy()
	if err := p.validate(); err != nil {
		return s.Current(), err
	}
	s.current.Store(&p)
	return p, nil
}

// Swap installs an explicit policy, used by tests and the admin override path.
func (s *PolicyStore) Swap(p Policy) (Policy, error) {
	if err := p.validate(); err != nil {
		return s.Current(), err
	}
	old := s.Current()
	s.current.Store(&p)
	return old, nil
}
