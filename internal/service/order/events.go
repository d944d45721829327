package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/entity"
)

// LifecycleEvent is emitted on the bus after every committed transition.
type LifecycleEvent struct {
	OrderID    int64              `json:"order_id"`
	Number     string             `json:"number"`
	MerchantID string             `json:"merchant_id"`
	Status     entity.OrderStatus `json:"status"`
	Actor      string             `json:"actor"`
	At         time.Time          `json:"at"`
}

// publishLifecycle is best effort: a bus outage must never fail a committed
// transition, so errors are logged and dropped.
func (s *Service) publishLifecycle(ctx context.Context, o *entity.Order, actor string, at time.Time) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := LifecycleEvent{
		OrderID:    o.ID,
		Number:     o.Number,
		MerchantID: o.MerchantID,
		Status:     o.Status,
		Actor:      actor,
		At:         at,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("marshal lifecycle event", zap.Error(err))
		}
		return
	}
	if err := s.publisher.Publish(ctx, []byte(fmt.Sprintf("order-%d", o.ID)), payload); err != nil {
		if s.logger != nil {
			s.logger.Error("publish lifecycle event", zap.Error(err))
		}
	}
}
