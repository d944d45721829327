package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatewise/tarmac/internal/database"
	"github.com/gatewise/tarmac/internal/entity"
)

var repoTracer = otel.Tracer("github.com/gatewise/tarmac/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// ErrVersionConflict is returned when an update raced another transition;
// the caller should re-read the order and retry.
var ErrVersionConflict = errors.New("order version conflict")

// ErrNumberTaken is returned when an insert lost the race for an order
// number; the caller should allocate a fresh number and retry.
var ErrNumberTaken = errors.New("order number already taken")

// Store is the persistence contract for orders and their event logs. The
// event log side is append-only: there is no update or remove for events.
type Store interface {
	Create(ctx context.Context, order *entity.Order) error
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	Update(ctx context.Context, order *entity.Order, expectedVersion int64) error
	AppendEvent(ctx context.Context, event *entity.EventLogEntry) error
	ListEvents(ctx context.Context, orderID int64) ([]*entity.EventLogEntry, error)
	ListActive(ctx context.Context) ([]*entity.Order, error)
	ListClosedByMerchant(ctx context.Context, merchantID string) ([]*entity.Order, error)
	NextNumber(ctx context.Context, now time.Time) (string, error)
}

// Repository is the bun-backed Store.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Create persists a new order with its items in one transaction.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.number", order.Number)))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().Model(order).
			On("CONFLICT (number) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return ErrNumberTaken
		}
		for _, item := range order.Items {
			item.OrderID = order.ID
		}
		if len(order.Items) > 0 {
			if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches an order with its items and event log, reading from the
// replica when available.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).
		Relation("Items").
		Relation("Events", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("id ASC")
		}).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// Update writes the order back guarded by the expected version. A zero row
// count means another transition won the race.
func (r *Repository) Update(ctx context.Context, order *entity.Order, expectedVersion int64) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Update", trace.WithAttributes(attribute.Int64("order.id", order.ID)))
	defer span.End()

	order.Version = expectedVersion + 1
	res, err := r.writer.NewUpdate().Model(order).
		WherePK().
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		order.Version = expectedVersion
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		order.Version = expectedVersion
		span.SetStatus(codes.Error, "version conflict")
		return ErrVersionConflict
	}
	return nil
}

// AppendEvent inserts one event log entry. The log is append-only by
// construction: no update or delete exists on this repository.
func (r *Repository) AppendEvent(ctx context.Context, event *entity.EventLogEntry) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.AppendEvent", trace.WithAttributes(attribute.Int64("order.id", event.OrderID)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(event).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// ListEvents returns the full ordered event sequence for an order.
func (r *Repository) ListEvents(ctx context.Context, orderID int64) ([]*entity.EventLogEntry, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListEvents", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var events []*entity.EventLogEntry
	err := r.reader.NewSelect().Model(&events).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return events, nil
}

// ListActive returns orders still moving through the lifecycle, for sweeps.
func (r *Repository) ListActive(ctx context.Context) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListActive")
	defer span.End()

	var orders []*entity.Order
	err := r.reader.NewSelect().Model(&orders).
		Where("status IN (?)", bun.In([]entity.OrderStatus{
			entity.StatusNew, entity.StatusAccepted, entity.StatusPreparing,
			entity.StatusReady, entity.StatusInTransit,
		})).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return orders, nil
}

// ListClosedByMerchant returns a merchant's terminal orders for rollups.
func (r *Repository) ListClosedByMerchant(ctx context.Context, merchantID string) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListClosedByMerchant", trace.WithAttributes(attribute.String("merchant.id", merchantID)))
	defer span.End()

	var orders []*entity.Order
	err := r.reader.NewSelect().Model(&orders).
		Where("merchant_id = ?", merchantID).
		Where("status IN (?)", bun.In([]entity.OrderStatus{
			entity.StatusDelivered, entity.StatusRejected,
			entity.StatusFailed, entity.StatusRefunded,
		})).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return orders, nil
}

// NextNumber allocates the next human-readable order number, sequential
// within the UTC day.
func (r *Repository) NextNumber(ctx context.Context, now time.Time) (string, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.NextNumber")
	defer span.End()

	day := now.UTC().Truncate(24 * time.Hour)
	count, err := r.writer.NewSelect().Model((*entity.Order)(nil)).
		Where("created_at >= ?", day).
		Count(ctx)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%04d", day.Format("20060102"), count+1), nil
}
