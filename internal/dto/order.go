package dto

import (
	"time"

	"github.com/gatewise/tarmac/internal/entity"
)

// SLAStatus carries computed deadline state alongside an order snapshot.
// Breach flags are evaluated at snapshot time, never stored.
type SLAStatus struct {
	AcceptBy           time.Time `json:"accept_by"`
	DeliverBy          time.Time `json:"deliver_by"`
	AcceptanceBreached bool      `json:"acceptance_breached"`
	DeliveryBreached   bool      `json:"delivery_breached"`
}

// OrderSnapshot is an order as exposed to the dashboard and ops tooling.
type OrderSnapshot struct {
	ID         int64              `json:"id"`
	Number     string             `json:"number"`
	MerchantID string             `json:"merchant_id"`
	Status     entity.OrderStatus `json:"status"`
	Terminal   bool               `json:"terminal"`

	Subtotal   int64  `json:"subtotal"`
	Discount   int64  `json:"discount"`
	ServiceFee int64  `json:"service_fee"`
	Total      int64  `json:"total"`
	Currency   string `json:"currency"`

	PassengerAlias string    `json:"passenger_alias"`
	Gate           string    `json:"gate"`
	Zone           string    `json:"zone,omitempty"`
	FlightNumber   string    `json:"flight_number,omitempty"`
	DepartureTime  time.Time `json:"departure_time,omitempty"`

	PaymentMethod string               `json:"payment_method"`
	PaymentStatus entity.PaymentStatus `json:"payment_status"`
	Runner        *string              `json:"runner,omitempty"`
	Priority      bool                 `json:"priority"`

	CreatedAt          time.Time  `json:"created_at"`
	AcceptedAt         *time.Time `json:"accepted_at,omitempty"`
	PreparingStartedAt *time.Time `json:"preparing_started_at,omitempty"`
	ReadyAt            *time.Time `json:"ready_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`

	SLA    SLAStatus               `json:"sla"`
	Items  []*entity.OrderItem     `json:"items"`
	Events []*entity.EventLogEntry `json:"events,omitempty"`
}

// RefundResponse is a refund record as exposed via transport layers.
type RefundResponse struct {
	ID          int64               `json:"id"`
	OrderID     int64               `json:"order_id"`
	Type        entity.RefundType   `json:"type"`
	Amount      int64               `json:"amount"`
	Reason      entity.RefundReason `json:"reason"`
	Notes       string              `json:"notes,omitempty"`
	RequestedBy string              `json:"requested_by"`
	RequestedAt time.Time           `json:"requested_at"`
	Status      entity.RefundStatus `json:"status"`
	Explanation string              `json:"explanation"`
	Flags       []string            `json:"flags,omitempty"`
	ResolvedBy  *string             `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty"`
}

// FromRefund maps a refund entity into its transport shape.
func FromRefund(r *entity.Refund, flags []string) RefundResponse {
	return RefundResponse{
		ID:          r.ID,
		OrderID:     r.OrderID,
		Type:        r.Type,
		Amount:      r.Amount,
		Reason:      r.Reason,
		Notes:       r.Notes,
		RequestedBy: r.RequestedBy,
		RequestedAt: r.RequestedAt,
		Status:      r.Status,
		Explanation: r.Explanation,
		Flags:       flags,
		ResolvedBy:  r.ResolvedBy,
		ResolvedAt:  r.ResolvedAt,
	}
}
