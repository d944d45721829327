package refund

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatewise/tarmac/internal/database"
	"github.com/gatewise/tarmac/internal/entity"
)

var repoTracer = otel.Tracer("github.com/gatewise/tarmac/repository/refund")

// ErrNotFound is returned when a refund record is missing.
var ErrNotFound = errors.New("refund not found")

// Store is the persistence contract for refund records.
type Store interface {
	Create(ctx context.Context, refund *entity.Refund) error
	GetByID(ctx context.Context, id int64) (*entity.Refund, error)
	Update(ctx context.Context, refund *entity.Refund) error
	CountForRequesterSince(ctx context.Context, requester string, since time.Time) (int, error)
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

// Create persists a new refund record.
func (r *Repository) Create(ctx context.Context, refund *entity.Refund) error {
	if refund == nil {
		return errors.New("nil refund")
	}
	ctx, span := repoTracer.Start(ctx, "RefundRepository.Create", trace.WithAttributes(attribute.Int64("order.id", refund.OrderID)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(refund).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches a refund by primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Refund, error) {
	ctx, span := repoTracer.Start(ctx, "RefundRepository.GetByID", trace.WithAttributes(attribute.Int64("refund.id", id)))
	defer span.End()

	refund := new(entity.Refund)
	err := r.reader.NewSelect().Model(refund).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return refund, nil
}

// Update writes a resolved refund back.
func (r *Repository) Update(ctx context.Context, refund *entity.Refund) error {
	ctx, span := repoTracer.Start(ctx, "RefundRepository.Update", trace.WithAttributes(attribute.Int64("refund.id", refund.ID)))
	defer span.End()

	_, err := r.writer.NewUpdate().Model(refund).WherePK().Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
	}
	return err
}

// CountForRequesterSince counts refund requests by one requester since the
// given instant; the evaluator uses it for the daily limit check.
func (r *Repository) CountForRequesterSince(ctx context.Context, requester string, since time.Time) (int, error) {
	ctx, span := repoTracer.Start(ctx, "RefundRepository.CountForRequesterSince", trace.WithAttributes(attribute.String("requester", requester)))
	defer span.End()

	count, err := r.reader.NewSelect().Model((*entity.Refund)(nil)).
		Where("requested_by = ?", requester).
		Where("requested_at >= ?", since).
		Count(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return count, nil
}
