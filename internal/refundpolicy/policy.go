// Package refundpolicy screens refund requests for auto-approval versus
// human review. Three independent thresholds are checked and their union
// decides: amount ceilings catch large individual refunds, the daily count
// limit catches many small refunds from one requester.
package refundpolicy

import (
	"fmt"
	"strings"

	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/entity"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

// Flag names surfaced to callers when a condition matched.
const (
	FlagExceedsAutoApproveLimit = "exceeds_auto_approve_limit"
	FlagExceedsOpsThreshold     = "exceeds_ops_threshold"
	FlagExceedsDailyLimit       = "exceeds_daily_limit"
)

// Decision is the evaluator outcome. Every matching flag is surfaced, not
// just the first, so ops can see all the reasons a request was held.
type Decision struct {
	Status      entity.RefundStatus
	Flags       []string
	Explanation string
}

// Evaluate screens a refund request against the active policy snapshot.
// Amount bounds are validated first: a non-positive amount is a validation
// error, an amount above the order total is a policy violation. Neither
// produces a refund record.
func Evaluate(order *entity.Order, amount int64, todayRefundCount int, p config.Policy) (Decision, error) {
	if order == nil {
		return Decision{}, errorbank.Validation("order is required")
	}
	if amount <= 0 {
		return Decision{}, errorbank.Validation("refund amount must be positive",
			errorbank.WithDetail("amount", amount))
	}
	if amount > order.Total {
		return Decision{}, errorbank.PolicyViolation("refund amount exceeds order total",
			errorbank.WithDetail("amount", amount),
			errorbank.WithDetail("order_total", order.Total))
	}

	var flags []string
	if amount > p.MaxAutoApprove {
		flags = append(flags, FlagExceedsAutoApproveLimit)
	}
	if amount > p.OpsApprovalThreshold {
		flags = append(flags, FlagExceedsOpsThreshold)
	}
	if todayRefundCount >= p.DailyLimitPerRequester {
		flags = append(flags, FlagExceedsDailyLimit)
	}

	if len(flags) > 0 {
		return Decision{
			Status:      entity.RefundPendingApproval,
			Flags:       flags,
			Explanation: fmt.Sprintf("held for ops approval: %s", strings.Join(flags, ", ")),
		}, nil
	}

	return Decision{
		Status:      entity.RefundApproved,
		Explanation: "within auto-approval limits",
	}, nil
}

// ValidateReason checks the reason code against the controlled list and
// enforces mandatory notes where the code requires them.
func ValidateReason(reason entity.RefundReason, notes string) error {
	if !reason.Valid() {
		return errorbank.Validation("unknown refund reason code",
			errorbank.WithDetail("reason", string(reason)))
	}
	if reason.RequiresNotes() && strings.TrimSpace(notes) == "" {
		return errorbank.Validation("this reason code requires notes",
			errorbank.WithDetail("reason", string(reason)))
	}
	return nil
}
