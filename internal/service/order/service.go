package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/audit"
	"github.com/gatewise/tarmac/internal/cache"
	"github.com/gatewise/tarmac/internal/clock"
	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/dto"
	"github.com/gatewise/tarmac/internal/entity"
	"github.com/gatewise/tarmac/internal/lifecycle"
	"github.com/gatewise/tarmac/internal/messaging"
	repo "github.com/gatewise/tarmac/internal/repository/order"
	"github.com/gatewise/tarmac/internal/sla"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/gatewise/tarmac/service/order")

// createAttempts bounds re-allocation when concurrent creates collide on an
// order number.
const createAttempts = 3

// Service orchestrates order lifecycle operations. Each operation reads one
// order, validates through the state machine, commits, and appends one event
// log entry; per-order work is serialized by a keyed mutex backed by the
// repository's optimistic version check.
type Service struct {
	store     repo.Store
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	policies  *config.PolicyStore
	clock     clock.Clock
	auditor   *audit.Recorder
	locks     *keyedMutex
	messaging messagingConfig
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     repo.Store
	Cache     cache.Store `optional:"true"`
	Config    config.Config
	Logger    *zap.Logger      `optional:"true"`
	Publisher messaging.Client `optional:"true"`
	Policies  *config.PolicyStore
	Clock     clock.Clock
	Auditor   *audit.Recorder `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:     p.Store,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    p.Logger,
		publisher: p.Publisher,
		policies:  p.Policies,
		clock:     p.Clock,
		auditor:   p.Auditor,
		locks:     newKeyedMutex(),
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
	}
}

// Create validates and persists a new order in status new, appending the
// creation entry to its event log.
func (s *Service) Create(ctx context.Context, in entity.NewOrderInput, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(attribute.String("merchant.id", in.MerchantID)))
	defer span.End()

	if actor == "" {
		actor = entity.ActorSystem
	}

	now := s.clock.Now()
	order, err := entity.NewOrder(in, now)
	if err != nil {
		return nil, err
	}

	// Number allocation is count-based, so two concurrent creates can draw
	// the same number; the insert detects the collision and we re-allocate.
	for attempt := 0; ; attempt++ {
		number, err := s.store.NextNumber(ctx, now)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "number allocation failed")
			return nil, errorbank.Internal("failed to allocate order number", errorbank.WithCause(err))
		}
		order.Number = number

		err = s.store.Create(ctx, order)
		if err == nil {
			break
		}
		if errors.Is(err, repo.ErrNumberTaken) && attempt < createAttempts-1 {
			continue
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}

	created := &entity.EventLogEntry{
		OrderID:   order.ID,
		Timestamp: now,
		Actor:     actor,
		Action:    "order_created",
		Details:   map[string]string{"number": order.Number},
	}
	if err := s.store.AppendEvent(ctx, created); err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to log order creation", errorbank.WithCause(err))
	}
	order.Events = append(order.Events, created)

	s.publishLifecycle(ctx, order, actor, now)
	return order, nil
}

// Transition moves an order to target through the state machine. On success
// the mutated order is committed under its optimistic version, the event log
// gains one entry, the cached snapshot is dropped and a lifecycle event is
// published. On any error the stored order is untouched.
func (s *Service) Transition(ctx context.Context, orderID int64, target entity.OrderStatus, actor string, meta lifecycle.Metadata) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Transition", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.target", string(target)),
	))
	defer span.End()

	unlock := s.locks.Lock(orderID)
	order, _, event, err := s.applyTransition(ctx, orderID, target, actor, meta)
	unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return nil, err
	}

	s.invalidate(ctx, orderID)
	s.publishLifecycle(ctx, order, actor, event.Timestamp)

	if target == entity.StatusFailed && s.auditor != nil {
		_, auditErr := s.auditor.Record(ctx, actor, audit.CategoryOrder, "order_failed",
			"order", fmt.Sprint(orderID), nil, map[string]string{"cause": meta[lifecycle.MetaCause]})
		if auditErr != nil && s.logger != nil {
			s.logger.Error("audit order failure", zap.Error(auditErr))
		}
	}

	return order, nil
}

func (s *Service) applyTransition(ctx context.Context, orderID int64, target entity.OrderStatus, actor string, meta lifecycle.Metadata) (*entity.Order, entity.OrderStatus, *entity.EventLogEntry, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, "", nil, err
	}

	prior := order.Status
	version := order.Version
	event, err := lifecycle.Transition(order, target, actor, meta, s.clock.Now())
	if err != nil {
		return nil, "", nil, err
	}

	if err := s.commit(ctx, order, version, event); err != nil {
		return nil, "", nil, err
	}
	return order, prior, event, nil
}

// RequestRefund moves the order into refund_requested and reports the status
// it held immediately before. The from-status is read under the same lock
// that commits the transition, so a decline later restores exactly the state
// this request interrupted, no matter what other actors did in between.
func (s *Service) RequestRefund(ctx context.Context, orderID int64, actor string, meta lifecycle.Metadata) (*entity.Order, entity.OrderStatus, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.RequestRefund", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	unlock := s.locks.Lock(orderID)
	order, prior, event, err := s.applyTransition(ctx, orderID, entity.StatusRefundRequested, actor, meta)
	unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return nil, "", err
	}

	s.invalidate(ctx, orderID)
	s.publishLifecycle(ctx, order, actor, event.Timestamp)
	return order, prior, nil
}

// Restore moves a refund_requested order back to its pre-refund status after
// a declined refund. Same commit discipline as Transition.
func (s *Service) Restore(ctx context.Context, orderID int64, prior entity.OrderStatus, actor string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Restore", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	version := order.Version
	event, err := lifecycle.RestoreAfterDecline(order, prior, actor, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.commit(ctx, order, version, event); err != nil {
		return nil, err
	}

	s.invalidate(ctx, orderID)
	s.publishLifecycle(ctx, order, actor, event.Timestamp)
	return order, nil
}

// Get returns the order, consulting the cache before the repository.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		if s.logger != nil {
			s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
		}
	}

	order, err := s.load(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.storeInCache(ctx, order); err != nil {
		if s.logger != nil {
			s.logger.Warn("orders cache write failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	return order, nil
}

// Snapshot projects an order into its transport shape with breach flags
// computed against the current clock and the active SLA windows.
func (s *Service) Snapshot(ctx context.Context, id int64) (dto.OrderSnapshot, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return dto.OrderSnapshot{}, err
	}
	return s.snapshot(order, s.clock.Now()), nil
}

// Events returns the order's full ordered event log.
func (s *Service) Events(ctx context.Context, id int64) ([]*entity.EventLogEntry, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Events", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to list events", errorbank.WithCause(err))
	}
	return events, nil
}

// Rollup aggregates SLA performance over a merchant's closed orders.
func (s *Service) Rollup(ctx context.Context, merchantID string) (sla.Rollup, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Rollup", trace.WithAttributes(attribute.String("merchant.id", merchantID)))
	defer span.End()

	if merchantID == "" {
		return sla.Rollup{}, errorbank.Validation("merchant id is required")
	}
	closed, err := s.store.ListClosedByMerchant(ctx, merchantID)
	if err != nil {
		span.RecordError(err)
		return sla.Rollup{}, errorbank.Internal("failed to load closed orders", errorbank.WithCause(err))
	}
	return sla.Compute(merchantID, closed, s.windows()), nil
}

// BreachReport summarizes one sweep pass. All orders in a pass are judged
// against the same captured instant.
type BreachReport struct {
	At                 time.Time `json:"at"`
	Scanned            int       `json:"scanned"`
	AcceptanceBreached []string  `json:"acceptance_breached,omitempty"`
	DeliveryBreached   []string  `json:"delivery_breached,omitempty"`
}

// SweepBreaches scans active orders for SLA breaches. It is read-only and
// idempotent: no order is mutated and no event log entry is written.
func (s *Service) SweepBreaches(ctx context.Context) (BreachReport, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.SweepBreaches")
	defer span.End()

	now := s.clock.Now()
	windows := s.windows()

	active, err := s.store.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return BreachReport{}, errorbank.Internal("failed to list active orders", errorbank.WithCause(err))
	}

	report := BreachReport{At: now, Scanned: len(active)}
	for _, o := range active {
		if sla.IsAcceptanceBreached(o, windows, now) {
			report.AcceptanceBreached = append(report.AcceptanceBreached, o.Number)
		}
		if sla.IsDeliveryBreached(o, windows, now) {
			report.DeliveryBreached = append(report.DeliveryBreached, o.Number)
		}
	}
	return report, nil
}

func (s *Service) windows() sla.Windows {
	p := s.policies.Current()
	return sla.Windows{Acceptance: p.AcceptanceWindow, Delivery: p.DeliveryWindow}
}

func (s *Service) snapshot(o *entity.Order, now time.Time) dto.OrderSnapshot {
	w := s.windows()
	return dto.OrderSnapshot{
		ID:                 o.ID,
		Number:             o.Number,
		MerchantID:         o.MerchantID,
		Status:             o.Status,
		Terminal:           o.Status.IsTerminal(),
		Subtotal:           o.Subtotal,
		Discount:           o.Discount,
		ServiceFee:         o.ServiceFee,
		Total:              o.Total,
		Currency:           o.Currency,
		PassengerAlias:     o.PassengerAlias,
		Gate:               o.Gate,
		Zone:               o.Zone,
		FlightNumber:       o.FlightNumber,
		DepartureTime:      o.DepartureTime,
		PaymentMethod:      o.PaymentMethod,
		PaymentStatus:      o.PaymentStatus,
		Runner:             o.Runner,
		Priority:           o.Priority,
		CreatedAt:          o.CreatedAt,
		AcceptedAt:         o.AcceptedAt,
		PreparingStartedAt: o.PreparingStartedAt,
		ReadyAt:            o.ReadyAt,
		DeliveredAt:        o.DeliveredAt,
		SLA: dto.SLAStatus{
			AcceptBy:           sla.AcceptanceDeadline(o, w),
			DeliverBy:          sla.DeliveryDeadline(o, w),
			AcceptanceBreached: sla.IsAcceptanceBreached(o, w, now),
			DeliveryBreached:   sla.IsDeliveryBreached(o, w, now),
		},
		Items:  o.Items,
		Events: o.Events,
	}
}

func (s *Service) load(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found", errorbank.WithDetail("id", id))
		}
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

func (s *Service) commit(ctx context.Context, order *entity.Order, expectedVersion int64, event *entity.EventLogEntry) error {
	if err := s.store.Update(ctx, order, expectedVersion); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return errorbank.Conflict("order was modified concurrently; retry with fresh state",
				errorbank.WithDetail("id", order.ID))
		}
		return errorbank.Internal("failed to update order", errorbank.WithCause(err))
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return errorbank.Internal("failed to append event", errorbank.WithCause(err))
	}
	order.Events = append(order.Events, event)
	return nil
}

func (s *Service) cacheKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) error {
	if s.cache == nil || order == nil {
		return nil
	}
	bytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.cacheKey(order.ID), bytes, s.cacheTTL)
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil && s.logger != nil {
		s.logger.Warn("orders cache invalidation failed", zap.Int64("id", id), zap.Error(err))
	}
}
