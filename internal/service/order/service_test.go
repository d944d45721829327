package order_test

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
	"github.com/gatewise/tarmac/pkg/errorbank"
)

var svcStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		Governance: config.Policy{
			MaxAutoApprove:         10000,
			OpsApprovalThreshold:   50000,
			DailyLimitPerRequester: 5,
			AcceptanceWindow:       90 * time.Second,
			DeliveryWindow:         25 * time.Minute,
		},
	}
}

func newService(t *testing.T, store orderrepo.Store) (*ordersvc.Service, *clock.Manual) {
	t.Helper()
	cfg := testConfig()
	clk := clock.NewManual(svcStart)
	svc := ordersvc.NewService(ordersvc.Params{
		Store:    store,
		Config:   cfg,
		Policies: config.NewPolicyStore(cfg),
		Clock:    clk,
	})
	return svc, clk
}

func createOrder(t *testing.T, svc *ordersvc.Service) *entity.Order {
	t.Helper()
	order, err := svc.Create(context.Background(), entity.NewOrderInput{
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
	return order
}

func TestCreateAssignsNumberAndLogsEvent(t *testing.T) {
	svc, _ := newService(t, memory.NewOrders())
	order := createOrder(t, svc)

	if order.Number != "ORD-20260301-0001" {
		t.Fatalf("number = %q", order.Number)
	}
	if order.Status != entity.StatusNew {
		t.Fatalf("status = %s", order.Status)
	}

	events, err := svc.Events(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Action != "order_created" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Actor != "kiosk-7" {
		t.Fatalf("creation actor = %q", events[0].Actor)
	}
}

func TestTransitionFullLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t, memory.NewOrders())
	order := createOrder(t, svc)

	steps := []entity.OrderStatus{
		entity.StatusAccepted, entity.StatusPreparing, entity.StatusReady,
		entity.StatusInTransit, entity.StatusDelivered,
	}
	for _, target := range steps {
		clk.Advance(10 * time.Second)
		updated, err := svc.Transition(ctx, order.ID, target, "merchant-1", nil)
		if err != nil {
			t.Fatalf("Transition to %s: %v", target, err)
		}
		if updated.Status != target {
			t.Fatalf("status = %s, want %s", updated.Status, target)
		}
	}

	final, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.AcceptedAt == nil || final.DeliveredAt == nil {
		t.Fatal("milestones not stamped")
	}
	if !final.AcceptedAt.Equal(svcStart.Add(10 * time.Second)) {
		t.Fatalf("AcceptedAt = %v", final.AcceptedAt)
	}

	events, err := svc.Events(ctx, order.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	// creation + five transitions
	if len(events) != 6 {
		t.Fatalf("event count = %d, want 6", len(events))
	}
}

func TestTransitionInvalidEdgeLeavesStoredOrderUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewOrders())
	order := createOrder(t, svc)

	if _, err := svc.Transition(ctx, order.ID, entity.StatusDelivered, "merchant-1", nil); err == nil {
		t.Fatal("expected invalid transition error")
	}

	stored, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != entity.StatusNew || stored.Version != 1 {
		t.Fatalf("order mutated: status=%s version=%d", stored.Status, stored.Version)
	}

	events, _ := svc.Events(ctx, order.ID)
	if len(events) != 1 {
		t.Fatalf("event appended on failed transition: %d", len(events))
	}
}

func TestTransitionRejectedNeedsReason(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, memory.NewOrders())
	order := createOrder(t, svc)

	if _, err := svc.Transition(ctx, order.ID, entity.StatusRejected, "merchant-1", nil); err == nil {
		t.Fatal("expected validation error")
	}

	updated, err := svc.Transition(ctx, order.ID, entity.StatusRejected, "merchant-1",
		lifecycle.Metadata{lifecycle.MetaReasonCode: "out_of_stock"})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.RejectionReason != "out_of_stock" {
		t.Fatalf("RejectionReason = %q", updated.RejectionReason)
	}
}

// numberClashStore rejects inserts with ErrNumberTaken a set number of
// times, as if concurrent creates drew the same order number.
type numberClashStore struct {
	*memory.Orders
	clashes int
	creates int
}

func (s *numberClashStore) Create(ctx context.Context, order *entity.Order) error {
	s.creates++
	if s.clashes > 0 {
		s.clashes--
		return orderrepo.ErrNumberTaken
	}
	return s.Orders.Create(ctx, order)
}

func TestCreateRetriesOnNumberClash(t *testing.T) {
	store := &numberClashStore{Orders: memory.NewOrders(), clashes: 2}
	svc, _ := newService(t, store)

	order := createOrder(t, svc)
	if store.creates != 3 {
		t.Fatalf("create attempts = %d, want 3", store.creates)
	}
	if order.Number != "ORD-20260301-0001" {
		t.Fatalf("number = %q", order.Number)
	}
}

func TestCreateGivesUpAfterRepeatedNumberClashes(t *testing.T) {
	store := &numberClashStore{Orders: memory.NewOrders(), clashes: 3}
	svc, _ := newService(t, store)

	_, err := svc.Create(context.Background(), entity.NewOrderInput{
		MerchantID:  "gate-grill",
		Currency:    "USD",
		Destination: entity.Destination{Gate: "B4"},
		Items: []*entity.OrderItem{
			{Name: "club sandwich", Quantity: 1, UnitPrice: 1250, Available: true},
		},
	}, "kiosk-7")
	if !errorbank.IsKind(err, errorbank.KindInternal) {
		t.Fatalf("error = %v, want internal", err)
	}
}

// conflictStore forces a version conflict on the next Update.
type conflictStore struct {
	*memory.Orders
	conflicts int
}

func (s *conflictStore) Update(ctx context.Context, order *entity.Order, expectedVersion int64) error {
	if s.conflicts > 0 {
		s.conflicts--
		return orderrepo.ErrVersionConflict
	}
	return s.Orders.Update(ctx, order, expectedVersion)
}

func TestTransitionVersionConflictSurfacesAsConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{Orders: memory.NewOrders(), conflicts: 1}
	svc, _ := newService(t, store)
	order := createOrder(t, svc)

	_, err := svc.Transition(ctx, order.ID, entity.StatusAccepted, "merchant-1", nil)
	if !errorbank.IsKind(err, errorbank.KindConflict) {
		t.Fatalf("error = %v, want conflict kind", err)
	}

	// Retry against fresh state succeeds.
	if _, err := svc.Transition(ctx, order.ID, entity.StatusAccepted, "merchant-1", nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestSnapshotReportsBreach(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t, memory.NewOrders())
	order := createOrder(t, svc)

	snap, err := svc.Snapshot(ctx, order.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.SLA.AcceptanceBreached {
		t.Fatal("breached immediately after creation")
	}
	if !snap.SLA.AcceptBy.Equal(svcStart.Add(90 * time.Second)) {
		t.Fatalf("AcceptBy = %v", snap.SLA.AcceptBy)
	}

	clk.Advance(2 * time.Minute)
	snap, err = svc.Snapshot(ctx, order.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.SLA.AcceptanceBreached {
		t.Fatal("acceptance breach not reported past deadline")
	}
	if snap.Terminal {
		t.Fatal("new order reported terminal")
	}
}

func TestSweepBreachesIsReadOnly(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t, memory.NewOrders())
	order := createOrder(t, svc)

	clk.Advance(2 * time.Minute)
	report, err := svc.SweepBreaches(ctx)
	if err != nil {
		t.Fatalf("SweepBreaches: %v", err)
	}
	if report.Scanned != 1 {
		t.Fatalf("scanned = %d, want 1", report.Scanned)
	}
	if len(report.AcceptanceBreached) != 1 || report.AcceptanceBreached[0] != order.Number {
		t.Fatalf("acceptance breached = %v", report.AcceptanceBreached)
	}
	if !report.At.Equal(clk.Now()) {
		t.Fatalf("report.At = %v, want %v", report.At, clk.Now())
	}

	// The sweep must not touch the order or its log.
	stored, _ := svc.Get(ctx, order.ID)
	if stored.Version != 1 || stored.Status != entity.StatusNew {
		t.Fatalf("sweep mutated order: %+v", stored)
	}
	events, _ := svc.Events(ctx, order.ID)
	if len(events) != 1 {
		t.Fatalf("sweep wrote events: %d", len(events))
	}

	// Second pass over the same instant reports the same thing.
	again, err := svc.SweepBreaches(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again.AcceptanceBreached) != 1 {
		t.Fatalf("second sweep = %+v", again)
	}
}

func TestRollupOverClosedOrders(t *testing.T) {
	ctx := context.Background()
	svc, clk := newService(t, memory.NewOrders())

	order := createOrder(t, svc)
	clk.Advance(30 * time.Second)
	mustTransition(t, svc, order.ID, entity.StatusAccepted)
	mustTransition(t, svc, order.ID, entity.StatusPreparing)
	mustTransition(t, svc, order.ID, entity.StatusReady)
	mustTransition(t, svc, order.ID, entity.StatusInTransit)
	clk.Advance(10 * time.Minute)
	mustTransition(t, svc, order.ID, entity.StatusDelivered)

	rollup, err := svc.Rollup(ctx, "gate-grill")
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if rollup.ClosedOrders != 1 {
		t.Fatalf("closed = %d, want 1", rollup.ClosedOrders)
	}
	if rollup.MedianAcceptSeconds != 30 {
		t.Fatalf("median accept = %v, want 30", rollup.MedianAcceptSeconds)
	}
	if rollup.OnTimeDeliveryPct != 100 {
		t.Fatalf("on-time pct = %v, want 100", rollup.OnTimeDeliveryPct)
	}
}

func mustTransition(t *testing.T, svc *ordersvc.Service, id int64, target entity.OrderStatus) {
	t.Helper()
	if _, err := svc.Transition(context.Background(), id, target, "merchant-1", nil); err != nil {
		t.Fatalf("Transition to %s: %v", target, err)
	}
}
