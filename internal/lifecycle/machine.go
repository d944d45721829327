// Package lifecycle implements the order state machine. Transitions are the
// only way an order mutates; each successful transition stamps the
// first-reached milestone timestamp and yields exactly one event log entry.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/gatewise/tarmac/internal/entity"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

// Metadata carries free-form transition context into the event log. Some
// targets require specific keys (see MetaReasonCode, MetaCause).
type Metadata map[string]string

// Metadata keys with machine-enforced semantics.
const (
	MetaReasonCode = "reason_code"
	MetaNotes      = "notes"
	MetaCause      = "cause"
)

// transitions is the allowed-from adjacency table. Rejected, failed and
// refunded have no outgoing edges; delivered only opens the refund flow.
var transitions = map[entity.OrderStatus][]entity.OrderStatus{
	entity.StatusNew:             {entity.StatusAccepted, entity.StatusRejected, entity.StatusFailed},
	entity.StatusAccepted:        {entity.StatusPreparing, entity.StatusFailed, entity.StatusRefundRequested},
	entity.StatusPreparing:       {entity.StatusReady, entity.StatusFailed, entity.StatusRefundRequested},
	entity.StatusReady:           {entity.StatusInTransit, entity.StatusFailed, entity.StatusRefundRequested},
	entity.StatusInTransit:       {entity.StatusDelivered, entity.StatusFailed, entity.StatusRefundRequested},
	entity.StatusDelivered:       {entity.StatusRefundRequested},
	entity.StatusRefundRequested: {entity.StatusRefunded},
	entity.StatusRejected:        {},
	entity.StatusFailed:          {},
	entity.StatusRefunded:        {},
}

// Allowed returns the statuses reachable from the given status.
func Allowed(from entity.OrderStatus) []entity.OrderStatus {
	return transitions[from]
}

// CanTransition reports whether from -> to is in the allowed table.
func CanTransition(from, to entity.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies target to the order. On success the order's status is
// updated, the corresponding milestone timestamp is stamped if unset, and the
// event log entry describing the change is returned; the caller appends it.
// On any error the order is left untouched.
func Transition(o *entity.Order, target entity.OrderStatus, actor string, meta Metadata, now time.Time) (*entity.EventLogEntry, error) {
	if o == nil {
		return nil, errorbank.Validation("order is required")
	}
	if actor == "" {
		return nil, errorbank.Validation("actor is required")
	}
	if !CanTransition(o.Status, target) {
		return nil, errorbank.InvalidTransition(
			fmt.Sprintf("cannot transition %s order to %s", o.Status, target),
			errorbank.WithDetail("from", string(o.Status)),
			errorbank.WithDetail("to", string(target)),
		)
	}

	switch target {
	case entity.StatusRejected:
		if meta[MetaReasonCode] == "" {
			return nil, errorbank.Validation("rejection requires a reason code")
		}
	case entity.StatusFailed:
		if meta[MetaCause] == "" {
			return nil, errorbank.Validation("failure requires a cause")
		}
	}

	now = now.UTC()
	o.Status = target
	o.UpdatedAt = now

	switch target {
	case entity.StatusAccepted:
		if o.AcceptedAt == nil {
			t := now
			o.AcceptedAt = &t
		}
	case entity.StatusPreparing:
		if o.PreparingStartedAt == nil {
			t := now
			o.PreparingStartedAt = &t
		}
	case entity.StatusReady:
		if o.ReadyAt == nil {
			t := now
			o.ReadyAt = &t
		}
	case entity.StatusDelivered:
		if o.DeliveredAt == nil {
			t := now
			o.DeliveredAt = &t
		}
	case entity.StatusRejected:
		o.RejectionReason = meta[MetaReasonCode]
	case entity.StatusFailed:
		o.FailureCause = meta[MetaCause]
	}

	return newEvent(o.ID, actor, target, meta, now), nil
}

// RestoreAfterDecline moves a refund_requested order back to the status it
// held before the refund was requested. This is the one sanctioned backward
// edge in the machine; it exists only for declined refunds.
func RestoreAfterDecline(o *entity.Order, prior entity.OrderStatus, actor string, now time.Time) (*entity.EventLogEntry, error) {
	if o == nil {
		return nil, errorbank.Validation("order is required")
	}
	if actor == "" {
		return nil, errorbank.Validation("actor is required")
	}
	if o.Status != entity.StatusRefundRequested {
		return nil, errorbank.InvalidTransition(
			fmt.Sprintf("cannot restore %s order; only refund_requested orders are restorable", o.Status),
		)
	}
	if prior == entity.StatusRefundRequested || prior == entity.StatusRefunded || prior == "" {
		return nil, errorbank.Validation("invalid prior status for restore",
			errorbank.WithDetail("prior", string(prior)))
	}

	now = now.UTC()
	o.Status = prior
	o.UpdatedAt = now
	return newEvent(o.ID, actor, prior, Metadata{"refund": "declined"}, now), nil
}

func newEvent(orderID int64, actor string, target entity.OrderStatus, meta Metadata, now time.Time) *entity.EventLogEntry {
	var details map[string]string
	if len(meta) > 0 {
		details = make(map[string]string, len(meta))
		for k, v := range meta {
			details[k] = v
		}
	}
	return &entity.EventLogEntry{
		OrderID:   orderID,
		Timestamp: now,
		Actor:     actor,
		Action:    "status → " + string(target),
		Details:   details,
	}
}
