package entity

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/gatewise/tarmac/pkg/errorbank"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAccepted        OrderStatus = "accepted"
	StatusPreparing       OrderStatus = "preparing"
	StatusReady           OrderStatus = "ready"
	StatusInTransit       OrderStatus = "in_transit"
	StatusDelivered       OrderStatus = "delivered"
	StatusRejected        OrderStatus = "rejected"
	StatusFailed          OrderStatus = "failed"
	StatusRefundRequested OrderStatus = "refund_requested"
	StatusRefunded        OrderStatus = "refunded"
)

// IsTerminal reports whether no further transition is defined for s except
// the explicit refund flow out of delivered.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusRejected, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// IsActive reports whether the order is still being worked on.
func (s OrderStatus) IsActive() bool {
	switch s {
	case StatusNew, StatusAccepted, StatusPreparing, StatusReady, StatusInTransit:
		return true
	}
	return false
}

// PaymentStatus enumerates payment settlement states as reported by the
// external payment collaborator.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Modifier is a selected item option with its price delta in minor units.
type Modifier struct {
	Name       string `json:"name"`
	PriceDelta int64  `json:"price_delta"`
}

// OrderItem is a line on an order. Items are immutable once the order exists.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items" json:"-"`

	ID        int64      `bun:",pk,autoincrement" json:"id"`
	OrderID   int64      `bun:"order_id" json:"order_id"`
	Name      string     `bun:"name" json:"name"`
	Quantity  int        `bun:"quantity" json:"quantity"`
	UnitPrice int64      `bun:"unit_price" json:"unit_price"`
	Modifiers []Modifier `bun:"modifiers,type:jsonb" json:"modifiers,omitempty"`
	Notes     string     `bun:"notes" json:"notes,omitempty"`
	Available bool       `bun:"available" json:"available"`
}

// LineTotal is quantity times unit price plus modifier deltas per unit.
func (i *OrderItem) LineTotal() int64 {
	unit := i.UnitPrice
	for _, m := range i.Modifiers {
		unit += m.PriceDelta
	}
	return unit * int64(i.Quantity)
}

// Destination is the delivery context inside the terminal.
type Destination struct {
	Gate          string    `json:"gate"`
	Zone          string    `json:"zone,omitempty"`
	FlightNumber  string    `json:"flight_number,omitempty"`
	DepartureTime time.Time `json:"departure_time,omitempty"`
}

// Order is the durable order record. All monetary fields are minor units;
// total is always recomputed from items, never trusted from input. Mutation
// goes exclusively through the lifecycle state machine.
type Order struct {
	bun.BaseModel `bun:"table:orders" json:"-"`

	ID         int64       `bun:",pk,autoincrement" json:"id"`
	Number     string      `bun:"number" json:"number"`
	MerchantID string      `bun:"merchant_id" json:"merchant_id"`
	Status     OrderStatus `bun:"status" json:"status"`

	Subtotal   int64  `bun:"subtotal" json:"subtotal"`
	Discount   int64  `bun:"discount" json:"discount"`
	ServiceFee int64  `bun:"service_fee" json:"service_fee"`
	Total      int64  `bun:"total" json:"total"`
	Currency   string `bun:"currency" json:"currency"`

	PassengerAlias string    `bun:"passenger_alias" json:"passenger_alias"`
	PassengerPhone string    `bun:"passenger_phone" json:"passenger_phone,omitempty"`
	Gate           string    `bun:"gate" json:"gate"`
	Zone           string    `bun:"zone" json:"zone,omitempty"`
	FlightNumber   string    `bun:"flight_number" json:"flight_number,omitempty"`
	DepartureTime  time.Time `bun:"departure_time,nullzero" json:"departure_time,omitempty"`

	PaymentMethod string        `bun:"payment_method" json:"payment_method"`
	PaymentStatus PaymentStatus `bun:"payment_status" json:"payment_status"`

	Runner     *string `bun:"runner" json:"runner,omitempty"`
	CouponCode *string `bun:"coupon_code" json:"coupon_code,omitempty"`
	Priority   bool    `bun:"priority" json:"priority"`

	RejectionReason string `bun:"rejection_reason" json:"rejection_reason,omitempty"`
	FailureCause    string `bun:"failure_cause" json:"failure_cause,omitempty"`

	// Version backs the optimistic concurrency check on updates.
	Version int64 `bun:"version" json:"version"`

	CreatedAt          time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	AcceptedAt         *time.Time `bun:"accepted_at" json:"accepted_at,omitempty"`
	PreparingStartedAt *time.Time `bun:"preparing_started_at" json:"preparing_started_at,omitempty"`
	ReadyAt            *time.Time `bun:"ready_at" json:"ready_at,omitempty"`
	DeliveredAt        *time.Time `bun:"delivered_at" json:"delivered_at,omitempty"`

	Items  []*OrderItem     `bun:"rel:has-many,join:id=order_id" json:"items"`
	Events []*EventLogEntry `bun:"rel:has-many,join:id=order_id" json:"events"`
}

// NewOrderInput carries everything needed to construct an order.
type NewOrderInput struct {
	MerchantID     string
	Items          []*OrderItem
	Currency       string
	Destination    Destination
	PassengerAlias string
	PassengerPhone string
	PaymentMethod  string
	Discount       int64
	ServiceFee     int64
	CouponCode     *string
	Priority       bool
}

// NewOrder validates the input and builds an order in status new with totals
// reconciled from the item lines. Items are frozen afterwards, so the totals
// hold for the order's entire lifetime.
func NewOrder(in NewOrderInput, now time.Time) (*Order, error) {
	if in.MerchantID == "" {
		return nil, errorbank.Validation("merchant id is required")
	}
	if len(in.Items) == 0 {
		return nil, errorbank.Validation("order requires at least one item")
	}
	if len(in.Currency) != 3 {
		return nil, errorbank.Validation("currency must be a three-letter code",
			errorbank.WithDetail("currency", in.Currency))
	}
	if in.Destination.Gate == "" {
		return nil, errorbank.Validation("destination gate is required")
	}
	if in.Discount < 0 || in.ServiceFee < 0 {
		return nil, errorbank.Validation("discount and service fee must be non-negative")
	}

	var subtotal int64
	for idx, item := range in.Items {
		if item == nil || item.Name == "" {
			return nil, errorbank.Validation("item name is required", errorbank.WithDetail("index", idx))
		}
		if item.Quantity < 1 {
			return nil, errorbank.Validation("item quantity must be at least 1",
				errorbank.WithDetail("item", item.Name))
		}
		if item.UnitPrice < 0 {
			return nil, errorbank.Validation("item unit price must be non-negative",
				errorbank.WithDetail("item", item.Name))
		}
		subtotal += item.LineTotal()
	}

	total := subtotal - in.Discount + in.ServiceFee
	if total < 0 {
		return nil, errorbank.Validation("discount exceeds order value")
	}

	now = now.UTC()
	return &Order{
		MerchantID:     in.MerchantID,
		Status:         StatusNew,
		Subtotal:       subtotal,
		Discount:       in.Discount,
		ServiceFee:     in.ServiceFee,
		Total:          total,
		Currency:       in.Currency,
		PassengerAlias: in.PassengerAlias,
		PassengerPhone: in.PassengerPhone,
		Gate:           in.Destination.Gate,
		Zone:           in.Destination.Zone,
		FlightNumber:   in.Destination.FlightNumber,
		DepartureTime:  in.Destination.DepartureTime,
		PaymentMethod:  in.PaymentMethod,
		PaymentStatus:  PaymentPending,
		CouponCode:     in.CouponCode,
		Priority:       in.Priority,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          in.Items,
	}, nil
}

// TotalsReconciled reports whether the stored total matches the invariant
// total = subtotal - discount + service_fee.
func (o *Order) TotalsReconciled() bool {
	return o.Total == o.Subtotal-o.Discount+o.ServiceFee
}

// MilestoneAt returns the first-reached timestamp for a status, when one is
// defined for it.
func (o *Order) MilestoneAt(s OrderStatus) *time.Time {
	switch s {
	case StatusAccepted:
		return o.AcceptedAt
	case StatusPreparing:
		return o.PreparingStartedAt
	case StatusReady:
		return o.ReadyAt
	case StatusDelivered:
		return o.DeliveredAt
	}
	return nil
}
