// Package sweep runs the periodic SLA breach scan. The sweep is read-only;
// breaches are derived state, never written back to orders.
package sweep

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/config"
	ordersvc "github.com/gatewise/tarmac/internal/service/order"
)

// Sweeper drives the recurring breach scan.
type Sweeper struct {
	orders   *ordersvc.Service
	logger   *zap.Logger
	interval time.Duration
	enabled  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Module wires the sweeper into the Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewSweeper),
	fx.Invoke(func(lc fx.Lifecycle, s *Sweeper) {
		lc.Append(fx.Hook{
			OnStart: s.start,
			OnStop:  s.stop,
		})
	}),
)

// NewSweeper constructs a Sweeper from configuration.
func NewSweeper(orders *ordersvc.Service, cfg config.Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		orders:   orders,
		logger:   logger,
		interval: cfg.Sweep.Interval,
		enabled:  cfg.Sweep.Enabled,
	}
}

func (s *Sweeper) start(ctx context.Context) error {
	if !s.enabled {
		s.logger.Info("sla sweep disabled")
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx)

	s.logger.Info("sla sweep started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Sweeper) stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Info("sla sweep stopped")
		return nil
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	report, err := s.orders.SweepBreaches(ctx)
	if err != nil {
		s.logger.Error("sla sweep failed", zap.Error(err))
		return
	}

	if len(report.AcceptanceBreached) == 0 && len(report.DeliveryBreached) == 0 {
		s.logger.Debug("sla sweep clean", zap.Int("scanned", report.Scanned))
		return
	}

	s.logger.Warn("sla breaches detected",
		zap.Int("scanned", report.Scanned),
		zap.Strings("acceptance_breached", report.AcceptanceBreached),
		zap.Strings("delivery_breached", report.DeliveryBreached),
	)
}
