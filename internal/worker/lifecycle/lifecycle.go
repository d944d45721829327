// Package lifecycle consumes order lifecycle events from the bus. Consumers
// are observers: the event log on the order itself is the source of truth.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/cache"
	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/messaging"
	ordersvc "github.com/gatewise/tarmac/internal/service/order"
	"github.com/gatewise/tarmac/internal/worker"
)

var workerTracer = otel.Tracer("github.com/gatewise/tarmac/worker/lifecycle")

// Module registers the lifecycle event handler.
var Module = fx.Module("worker_lifecycle",
	fx.Provide(
		fx.Annotate(
			NewLifecycleHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewLifecycleHandler builds a handler that logs committed transitions and
// drops any stale cached copy of the order on other instances.
func NewLifecycleHandler(logger *zap.Logger, cfg config.Config, store cache.Store) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.lifecycle.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event ordersvc.LifecycleEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode lifecycle event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}

		if store != nil {
			if err := store.Delete(ctx, fmt.Sprintf("orders:%d", event.OrderID)); err != nil {
				logger.Warn("cache invalidation failed",
					zap.Int64("order_id", event.OrderID), zap.Error(err))
			}
		}

		logger.Info("lifecycle event processed",
			zap.Int64("order_id", event.OrderID),
			zap.String("number", event.Number),
			zap.String("status", string(event.Status)),
			zap.String("actor", event.Actor),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
