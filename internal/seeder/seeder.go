package seeder

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gatewise/tarmac/internal/config"
	"github.com/gatewise/tarmac/internal/database"
	"github.com/gatewise/tarmac/internal/entity"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder fills the database with deterministic demo orders for local/dev
// setups. The same seed always produces the same orders.
type Seeder struct {
	db     *bun.DB
	cfg    config.Seed
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, cfg config.Config, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, cfg: cfg.Seed, logger: logger}
}

var (
	merchants = []string{"gate-grill", "sky-deli", "runway-ramen", "terminal-tacos"}
	gates     = []string{"A2", "A7", "B4", "B11", "C3", "C9", "D1"}
	menu      = []struct {
		name  string
		price int64
	}{
		{"club sandwich", 1250},
		{"caesar salad", 1100},
		{"double espresso", 450},
		{"miso ramen", 1600},
		{"carnitas taco trio", 1350},
		{"sparkling water", 300},
	}
)

// Orders inserts the configured number of demo orders if they are missing.
// Numbers are stable for a given seed, so re-running is a no-op.
func (s *Seeder) Orders(ctx context.Context) error {
	rng := rand.New(rand.NewSource(s.cfg.RandomSeed))
	now := time.Now().UTC()

	count := s.cfg.Orders
	if count <= 0 {
		count = 12
	}

	inserted := 0
	for i := 0; i < count; i++ {
		item := menu[rng.Intn(len(menu))]
		qty := 1 + rng.Intn(3)

		input := entity.NewOrderInput{
			MerchantID: merchants[rng.Intn(len(merchants))],
			Currency:   "USD",
			Destination: entity.Destination{
				Gate: gates[rng.Intn(len(gates))],
				Zone: "airside",
			},
			PassengerAlias: fmt.Sprintf("pax-%04d", rng.Intn(10000)),
			PaymentMethod:  "card",
			ServiceFee:     200,
			Priority:       rng.Intn(5) == 0,
			Items: []*entity.OrderItem{
				{Name: item.name, Quantity: qty, UnitPrice: item.price, Available: true},
			},
		}

		order, err := entity.NewOrder(input, now)
		if err != nil {
			return fmt.Errorf("build seed order: %w", err)
		}
		order.Number = fmt.Sprintf("SEED-%d-%04d", s.cfg.RandomSeed, i)

		res, err := s.db.NewInsert().Model(order).
			On("CONFLICT (number) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if rows, err := res.RowsAffected(); err == nil && rows == 0 {
			continue
		}

		for _, it := range order.Items {
			it.OrderID = order.ID
		}
		if _, err := s.db.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			return err
		}
		inserted++
	}

	if s.logger != nil {
		s.logger.Info("seeded orders",
			zap.Int("requested", count),
			zap.Int("inserted", inserted),
			zap.Int64("seed", s.cfg.RandomSeed),
		)
	}
	return nil
}
