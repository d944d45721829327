package refund

import (
	"context"
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
	"github.com/gatewise/tarmac/internal/clock"
	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/entity"
	"github.com/gatewise/tarmac/internal/lifecycle"
	"github.com/gatewise/tarmac/internal/refundpolicy"
	repo "github.com/gatewise/tarmac/internal/repository/refund"
	ordersvc "github.com/gatewise/tarmac/internal/service/order"
	"github.com/gatewise/tarmac/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/gatewise/tarmac/service/refund")

// Service screens refund requests and applies ops decisions. Order mutations
// go through the order service so refunds obey the same state machine and
// concurrency discipline as every other transition.
type Service struct {
	store    repo.Store
	orders   *ordersvc.Service
	policies *config.PolicyStore
	clock    clock.Clock
	auditor  *audit.Recorder
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store    repo.Store
	Orders   *ordersvc.Service
	Policies *config.PolicyStore
	Clock    clock.Clock
	Auditor  *audit.Recorder `optional:"true"`
	Logger   *zap.Logger     `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:    p.Store,
		orders:   p.Orders,
		policies: p.Policies,
		clock:    p.Clock,
		auditor:  p.Auditor,
		logger:   p.Logger,
	}
}

// RequestInput carries a refund request.
type RequestInput struct {
	OrderID   int64
	Amount    int64
	Reason    entity.RefundReason
	Notes     string
	Requester string
}

// Result pairs the stored refund with the raised policy flags.
type Result struct {
	Refund *entity.Refund
	Flags  []string
}

// Request validates a refund request, evaluates the governance policy and
// either auto-approves (order goes refund_requested then refunded) or holds
// the request for ops approval. No refund record is created when validation
// or policy bounds reject the request.
func (s *Service) Request(ctx context.Context, in RequestInput) (Result, error) {
	ctx, span := serviceTracer.Start(ctx, "RefundService.Request", trace.WithAttributes(
		attribute.Int64("order.id", in.OrderID),
		attribute.Int64("refund.amount", in.Amount),
	))
	defer span.End()

	if in.Requester == "" {
		return Result{}, errorbank.Validation("requester is required")
	}
	if err := refundpolicy.ValidateReason(in.Reason, in.Notes); err != nil {
		return Result{}, err
	}

	order, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return Result{}, err
	}
	if !lifecycle.CanTransition(order.Status, entity.StatusRefundRequested) {
		return Result{}, errorbank.InvalidTransition(
			fmt.Sprintf("order in status %s is not refundable", order.Status))
	}

	now := s.clock.Now()
	todayCount, err := s.store.CountForRequesterSince(ctx, in.Requester, startOfDay(now))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "daily count failed")
		return Result{}, errorbank.Internal("failed to count refunds", errorbank.WithCause(err))
	}

	decision, err := refundpolicy.Evaluate(order, in.Amount, todayCount, s.policies.Current())
	if err != nil {
		return Result{}, err
	}

	refundType := entity.RefundPartial
	if in.Amount == order.Total {
		refundType = entity.RefundFull
	}

	// The order enters refund_requested before any record exists, so a
	// failed transition leaves no refund behind. The from-status comes from
	// the locked transition itself, not from the read above, which may be
	// stale by the time the transition commits.
	meta := lifecycle.Metadata{lifecycle.MetaReasonCode: string(in.Reason)}
	_, prior, err := s.orders.RequestRefund(ctx, order.ID, in.Requester, meta)
	if err != nil {
		return Result{}, err
	}

	record := &entity.Refund{
		OrderID:     order.ID,
		Type:        refundType,
		Amount:      in.Amount,
		Reason:      in.Reason,
		Notes:       in.Notes,
		RequestedBy: in.Requester,
		RequestedAt: now,
		Status:      decision.Status,
		Explanation: decision.Explanation,
		PriorStatus: prior,
	}
	if err := s.store.Create(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		if _, restoreErr := s.orders.Restore(ctx, order.ID, prior, entity.ActorSystem); restoreErr != nil && s.logger != nil {
			s.logger.Error("restore order after refund create failure",
				zap.Int64("order_id", order.ID), zap.Error(restoreErr))
		}
		return Result{}, errorbank.Internal("failed to create refund", errorbank.WithCause(err))
	}

	if decision.Status == entity.RefundApproved {
		if _, err := s.orders.Transition(ctx, order.ID, entity.StatusRefunded, entity.ActorSystem,
			lifecycle.Metadata{"refund_id": fmt.Sprint(record.ID)}); err != nil {
			return Result{}, err
		}
	}

	s.recordAudit(ctx, in.Requester, "refund_"+string(decision.Status), record, decision.Flags)
	return Result{Refund: record, Flags: decision.Flags}, nil
}

// Resolve applies an ops decision to a pending refund. Approval moves the
// order to refunded; decline restores the status it held before the request.
func (s *Service) Resolve(ctx context.Context, refundID int64, approve bool, resolver string) (*entity.Refund, error) {
	ctx, span := serviceTracer.Start(ctx, "RefundService.Resolve", trace.WithAttributes(
		attribute.Int64("refund.id", refundID),
		attribute.Bool("refund.approve", approve),
	))
	defer span.End()

	if resolver == "" {
		return nil, errorbank.Validation("resolver is required")
	}

	record, err := s.store.GetByID(ctx, refundID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("refund not found", errorbank.WithDetail("id", refundID))
		}
		return nil, errorbank.Internal("failed to load refund", errorbank.WithCause(err))
	}
	if record.Status != entity.RefundPendingApproval {
		return nil, errorbank.InvalidTransition(
			fmt.Sprintf("refund is already %s", record.Status))
	}

	if approve {
		if _, err := s.orders.Transition(ctx, record.OrderID, entity.StatusRefunded, resolver,
			lifecycle.Metadata{"refund_id": fmt.Sprint(record.ID)}); err != nil {
			return nil, err
		}
		record.Status = entity.RefundApproved
		record.Explanation = "approved by ops"
	} else {
		if _, err := s.orders.Restore(ctx, record.OrderID, record.PriorStatus, resolver); err != nil {
			return nil, err
		}
		record.Status = entity.RefundDeclined
		record.Explanation = "declined by ops"
	}

	now := s.clock.Now()
	record.ResolvedBy = &resolver
	record.ResolvedAt = &now
	if err := s.store.Update(ctx, record); err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to update refund", errorbank.WithCause(err))
	}

	s.recordAudit(ctx, resolver, "refund_"+string(record.Status), record, nil)
	return record, nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, record *entity.Refund, flags []string) {
	if s.auditor == nil {
		return
	}
	payload := map[string]any{
		"order_id": record.OrderID,
		"amount":   record.Amount,
		"reason":   record.Reason,
		"status":   record.Status,
	}
	if len(flags) > 0 {
		payload["flags"] = flags
	}
	if _, err := s.auditor.Record(ctx, actor, audit.CategoryRefund, action,
		"refund", fmt.Sprint(record.ID), nil, payload); err != nil && s.logger != nil {
		s.logger.Error("audit refund decision", zap.Error(err))
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
