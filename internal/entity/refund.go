package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// RefundType distinguishes full from partial refunds.
type RefundType string

const (
	RefundFull    RefundType = "full"
	RefundPartial RefundType = "partial"
)

// RefundStatus enumerates refund decision states.
type RefundStatus string

const (
	RefundApproved        RefundStatus = "approved"
	RefundPendingApproval RefundStatus = "pending_approval"
	RefundDeclined        RefundStatus = "declined"
)

// RefundReason is a controlled reason code.
type RefundReason string

const (
	ReasonWrongItem         RefundReason = "wrong_item"
	ReasonQualityIssue      RefundReason = "quality_issue"
	ReasonDelayedDelivery   RefundReason = "delayed_delivery"
	ReasonNeverDelivered    RefundReason = "never_delivered"
	ReasonPassengerDeparted RefundReason = "passenger_departed"
	ReasonGoodwill          RefundReason = "goodwill"
	ReasonOther             RefundReason = "other"
)

// refundReasons maps each valid code to whether free-text notes are mandatory.
var refundReasons = map[RefundReason]bool{
	ReasonWrongItem:         false,
	ReasonQualityIssue:      false,
	ReasonDelayedDelivery:   false,
	ReasonNeverDelivered:    false,
	ReasonPassengerDeparted: false,
	ReasonGoodwill:          true,
	ReasonOther:             true,
}

// Valid reports whether r is in the controlled reason list.
func (r RefundReason) Valid() bool {
	_, ok := refundReasons[r]
	return ok
}

// RequiresNotes reports whether r mandates free-text notes.
func (r RefundReason) RequiresNotes() bool {
	return refundReasons[r]
}

// Refund is a refund request against an order. It references the order; the
// order outlives any refund record. PriorStatus remembers where the order was
// when the refund was requested so a decline can restore it.
type Refund struct {
	bun.BaseModel `bun:"table:refunds" json:"-"`

	ID          int64        `bun:",pk,autoincrement" json:"id"`
	OrderID     int64        `bun:"order_id" json:"order_id"`
	Type        RefundType   `bun:"type" json:"type"`
	Amount      int64        `bun:"amount" json:"amount"`
	Reason      RefundReason `bun:"reason" json:"reason"`
	Notes       string       `bun:"notes" json:"notes,omitempty"`
	RequestedBy string       `bun:"requested_by" json:"requested_by"`
	RequestedAt time.Time    `bun:"requested_at,notnull" json:"requested_at"`
	Status      RefundStatus `bun:"status" json:"status"`
	Explanation string       `bun:"explanation" json:"explanation"`
	PriorStatus OrderStatus  `bun:"prior_status" json:"prior_status"`
	ResolvedBy  *string      `bun:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time   `bun:"resolved_at" json:"resolved_at,omitempty"`
}
