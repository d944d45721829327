package refund_test

import (
	"context"
	"testing"
	"time"

	"github.com/gatewise/tarmac/internal/clock"
	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/entity"
	"github.com/gatewise/tarmac/internal/lifecycle"
	"github.com/gatewise/tarmac/internal/repository/memory"
	orderrepo "github.com/gatewise/tarmac/internal/repository/order"
	ordersvc "github.com/gatewise/tarmac/internal/service/order"
	refundsvc "github.com/gatewise/tarmac/internal/service/refund"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

var refundStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	orders  *ordersvc.Service
	refunds *refundsvc.Service
	clk     *clock.Manual
}

func newFixture(t *testing.T, policy config.Policy) *fixture {
	t.Helper()
	return newFixtureWith(t, policy, memory.NewOrders())
}

func newFixtureWith(t *testing.T, policy config.Policy, store orderrepo.Store) *fixture {
	t.Helper()
	cfg := config.Config{Governance: policy}
	policies := config.NewPolicyStore(cfg)
	clk := clock.NewManual(refundStart)

	orders := ordersvc.NewService(ordersvc.Params{
		Store:    store,
		Config:   cfg,
		Policies: policies,
		Clock:    clk,
	})
	refunds := refundsvc.NewService(refundsvc.Params{
		Store:    memory.NewRefunds(),
		Orders:   orders,
		Policies: policies,
		Clock:    clk,
	})
	return &fixture{orders: orders, refunds: refunds, clk: clk}
}

func defaultPolicy() config.Policy {
	return config.Policy{
		MaxAutoApprove:         10000,
		OpsApprovalThreshold:   50000,
		DailyLimitPerRequester: 5,
		AcceptanceWindow:       90 * time.Second,
		DeliveryWindow:         25 * time.Minute,
	}
}

// deliveredOrder creates an order and walks it to delivered. Total is 1450.
func (f *fixture) deliveredOrder(t *testing.T) *entity.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.orders.Create(ctx, entity.NewOrderInput{
		MerchantID:  "gate-grill",
		Currency:    "USD",
		Destination: entity.Destination{Gate: "B4"},
		ServiceFee:  200,
		Items: []*entity.OrderItem{
			{Name: "club sandwich", Quantity: 1, UnitPrice: 1250, Available: true},
		},
	}, "kiosk-7")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, target := range []entity.OrderStatus{
		entity.StatusAccepted, entity.StatusPreparing, entity.StatusReady,
		entity.StatusInTransit, entity.StatusDelivered,
	} {
		if _, err := f.orders.Transition(ctx, order.ID, target, "merchant-1", nil); err != nil {
			t.Fatalf("Transition to %s: %v", target, err)
		}
	}
	return order
}

func TestRequestAutoApproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())
	order := f.deliveredOrder(t)

	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    500,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Refund.Status != entity.RefundApproved {
		t.Fatalf("status = %s, want approved", result.Refund.Status)
	}
	if result.Refund.Type != entity.RefundPartial {
		t.Fatalf("type = %s, want partial", result.Refund.Type)
	}
	if len(result.Flags) != 0 {
		t.Fatalf("flags = %v", result.Flags)
	}

	stored, err := f.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != entity.StatusRefunded {
		t.Fatalf("order status = %s, want refunded", stored.Status)
	}
}

func TestRequestFullRefundType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())
	order := f.deliveredOrder(t)

	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    1450,
		Reason:    entity.ReasonNeverDelivered,
		Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Refund.Type != entity.RefundFull {
		t.Fatalf("type = %s, want full", result.Refund.Type)
	}
}

func TestRequestHeldAndDeclinedRestoresPriorStatus(t *testing.T) {
	ctx := context.Background()
	policy := defaultPolicy()
	policy.MaxAutoApprove = 100
	f := newFixture(t, policy)
	order := f.deliveredOrder(t)

	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    500,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Refund.Status != entity.RefundPendingApproval {
		t.Fatalf("status = %s, want pending_approval", result.Refund.Status)
	}
	if result.Refund.PriorStatus != entity.StatusDelivered {
		t.Fatalf("prior status = %s, want delivered", result.Refund.PriorStatus)
	}

	held, _ := f.orders.Get(ctx, order.ID)
	if held.Status != entity.StatusRefundRequested {
		t.Fatalf("order status = %s, want refund_requested", held.Status)
	}

	resolved, err := f.refunds.Resolve(ctx, result.Refund.ID, false, "ops-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != entity.RefundDeclined {
		t.Fatalf("status = %s, want declined", resolved.Status)
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != "ops-1" {
		t.Fatalf("resolved by = %v", resolved.ResolvedBy)
	}

	restored, _ := f.orders.Get(ctx, order.ID)
	if restored.Status != entity.StatusDelivered {
		t.Fatalf("order status = %s, want delivered restored", restored.Status)
	}
}

func TestResolveApproveRefundsOrder(t *testing.T) {
	ctx := context.Background()
	policy := defaultPolicy()
	policy.MaxAutoApprove = 100
	f := newFixture(t, policy)
	order := f.deliveredOrder(t)

	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    500,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	resolved, err := f.refunds.Resolve(ctx, result.Refund.ID, true, "ops-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != entity.RefundApproved {
		t.Fatalf("status = %s, want approved", resolved.Status)
	}

	stored, _ := f.orders.Get(ctx, order.ID)
	if stored.Status != entity.StatusRefunded {
		t.Fatalf("order status = %s, want refunded", stored.Status)
	}

	// A resolved refund cannot be resolved twice.
	if _, err := f.refunds.Resolve(ctx, result.Refund.ID, false, "ops-2"); err == nil {
		t.Fatal("expected error resolving a resolved refund")
	}
}

func TestRequestDailyLimitHolds(t *testing.T) {
	ctx := context.Background()
	policy := defaultPolicy()
	policy.DailyLimitPerRequester = 1
	f := newFixture(t, policy)

	first := f.deliveredOrder(t)
	second := f.deliveredOrder(t)

	if _, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID: first.ID, Amount: 100, Reason: entity.ReasonQualityIssue, Requester: "pax-0042",
	}); err != nil {
		t.Fatalf("first request: %v", err)
	}

	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID: second.ID, Amount: 100, Reason: entity.ReasonQualityIssue, Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if result.Refund.Status != entity.RefundPendingApproval {
		t.Fatalf("status = %s, want pending_approval", result.Refund.Status)
	}
}

func TestRequestAmountOverTotalCreatesNoRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())
	order := f.deliveredOrder(t)

	_, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    99999,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if !errorbank.IsKind(err, errorbank.KindPolicyViolation) {
		t.Fatalf("error = %v, want policy violation", err)
	}

	stored, _ := f.orders.Get(ctx, order.ID)
	if stored.Status != entity.StatusDelivered {
		t.Fatalf("order status = %s, want delivered untouched", stored.Status)
	}

	// The requester's daily count is unaffected by the rejected request.
	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    100,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("follow-up request: %v", err)
	}
	if result.Refund.ID != 1 {
		t.Fatalf("refund id = %d, want 1 (no prior record)", result.Refund.ID)
	}
}

func TestRequestOnActiveOrderHoldsPriorStatus(t *testing.T) {
	ctx := context.Background()
	policy := defaultPolicy()
	policy.MaxAutoApprove = 100
	f := newFixture(t, policy)

	order, err := f.orders.Create(ctx, entity.NewOrderInput{
		MerchantID:  "gate-grill",
		Currency:    "USD",
		Destination: entity.Destination{Gate: "B4"},
		Items: []*entity.OrderItem{
			{Name: "club sandwich", Quantity: 1, UnitPrice: 1250, Available: true},
		},
	}, "kiosk-7")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.orders.Transition(ctx, order.ID, entity.StatusAccepted, "merchant-1", nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    500,
		Reason:    entity.ReasonPassengerDeparted,
		Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Refund.PriorStatus != entity.StatusAccepted {
		t.Fatalf("prior status = %s, want accepted", result.Refund.PriorStatus)
	}

	if _, err := f.refunds.Resolve(ctx, result.Refund.ID, false, "ops-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	restored, _ := f.orders.Get(ctx, order.ID)
	if restored.Status != entity.StatusAccepted {
		t.Fatalf("order status = %s, want accepted restored", restored.Status)
	}
}

func TestRequestRejectedOrderNotRefundable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultPolicy())

	order, err := f.orders.Create(ctx, entity.NewOrderInput{
		MerchantID:  "gate-grill",
		Currency:    "USD",
		Destination: entity.Destination{Gate: "B4"},
		Items: []*entity.OrderItem{
			{Name: "club sandwich", Quantity: 1, UnitPrice: 1250, Available: true},
		},
	}, "kiosk-7")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.orders.Transition(ctx, order.ID, entity.StatusRejected, "merchant-1",
		map[string]string{"reason_code": "out_of_stock"}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	_, err = f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    100,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if !errorbank.IsKind(err, errorbank.KindInvalidTransition) {
		t.Fatalf("error = %v, want invalid transition", err)
	}
}

// interleavingOrders runs a callback once after a read, simulating another
// actor committing a transition between the refund screening read and the
// refund_requested transition.
type interleavingOrders struct {
	*memory.Orders
	armed   bool
	between func()
}

func (s *interleavingOrders) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.Orders.GetByID(ctx, id)
	if err == nil && s.armed {
		s.armed = false
		s.between()
	}
	return order, err
}

// inTransitOrder creates an order and walks it to in_transit.
func (f *fixture) inTransitOrder(t *testing.T) *entity.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.orders.Create(ctx, entity.NewOrderInput{
		MerchantID:  "gate-grill",
		Currency:    "USD",
		Destination: entity.Destination{Gate: "B4"},
		Items: []*entity.OrderItem{
			{Name: "club sandwich", Quantity: 1, UnitPrice: 1250, Available: true},
		},
	}, "kiosk-7")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, target := range []entity.OrderStatus{
		entity.StatusAccepted, entity.StatusPreparing, entity.StatusReady,
		entity.StatusInTransit,
	} {
		if _, err := f.orders.Transition(ctx, order.ID, target, "merchant-1", nil); err != nil {
			t.Fatalf("Transition to %s: %v", target, err)
		}
	}
	return order
}

func TestRequestRecordsStatusAtTransitionTime(t *testing.T) {
	ctx := context.Background()
	policy := defaultPolicy()
	policy.MaxAutoApprove = 100
	store := &interleavingOrders{Orders: memory.NewOrders()}
	f := newFixtureWith(t, policy, store)
	order := f.inTransitOrder(t)

	// A runner delivers the order right after the screening read.
	store.between = func() {
		if _, err := f.orders.Transition(ctx, order.ID, entity.StatusDelivered, "runner-3", nil); err != nil {
			t.Errorf("deliver: %v", err)
		}
	}
	store.armed = true

	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    500,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Refund.PriorStatus != entity.StatusDelivered {
		t.Fatalf("prior status = %s, want delivered", result.Refund.PriorStatus)
	}

	// Declining must restore the delivered state, not the stale in_transit.
	if _, err := f.refunds.Resolve(ctx, result.Refund.ID, false, "ops-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	restored, _ := f.orders.Get(ctx, order.ID)
	if restored.Status != entity.StatusDelivered {
		t.Fatalf("order status = %s, want delivered", restored.Status)
	}
	if restored.DeliveredAt == nil {
		t.Fatal("DeliveredAt lost after decline")
	}
}

func TestRequestLeavesNoRecordWhenOrderBecomesNonRefundable(t *testing.T) {
	ctx := context.Background()
	store := &interleavingOrders{Orders: memory.NewOrders()}
	f := newFixtureWith(t, defaultPolicy(), store)
	order := f.inTransitOrder(t)

	// The order fails right after the screening read.
	store.between = func() {
		if _, err := f.orders.Transition(ctx, order.ID, entity.StatusFailed, "ops-1",
			lifecycle.Metadata{lifecycle.MetaCause: "runner_unreachable"}); err != nil {
			t.Errorf("fail: %v", err)
		}
	}
	store.armed = true

	_, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   order.ID,
		Amount:    500,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if !errorbank.IsKind(err, errorbank.KindInvalidTransition) {
		t.Fatalf("error = %v, want invalid transition", err)
	}

	stored, _ := f.orders.Get(ctx, order.ID)
	if stored.Status != entity.StatusFailed {
		t.Fatalf("order status = %s, want failed", stored.Status)
	}

	// No refund record was created for the failed request.
	other := f.deliveredOrder(t)
	result, err := f.refunds.Request(ctx, refundsvc.RequestInput{
		OrderID:   other.ID,
		Amount:    100,
		Reason:    entity.ReasonQualityIssue,
		Requester: "pax-0042",
	})
	if err != nil {
		t.Fatalf("follow-up request: %v", err)
	}
	if result.Refund.ID != 1 {
		t.Fatalf("refund id = %d, want 1 (no prior record)", result.Refund.ID)
	}
}
