package audit

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	auditchain "github.com/gatewise/tarmac/internal/audit"
	"github.com/gatewise/tarmac/internal/database"
)

var repoTracer = otel.Tracer("github.com/gatewise/tarmac/repository/audit")

// Repository is the bun-backed audit chain store. It only ever inserts and
// selects; the chain has no update or delete path anywhere.
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

// Append inserts one chain entry.
func (r *Repository) Append(ctx context.Context, entry *auditchain.Entry) error {
	if entry == nil {
		return errors.New("nil audit entry")
	}
	ctx, span := repoTracer.Start(ctx, "AuditRepository.Append")
	defer span.End()

	_, err := r.writer.NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// Last returns the chain head, or nil when the chain is empty. Reads go to
// the writer: the head must never lag behind appends.
func (r *Repository) Last(ctx context.Context) (*auditchain.Entry, error) {
	ctx, span := repoTracer.Start(ctx, "AuditRepository.Last")
	defer span.End()

	entry := new(auditchain.Entry)
	err := r.writer.NewSelect().Model(entry).Order("id DESC").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entry, nil
}

// ListAll returns the full chain in sequence order for verification.
func (r *Repository) ListAll(ctx context.Context) ([]*auditchain.Entry, error) {
	ctx, span := repoTracer.Start(ctx, "AuditRepository.ListAll")
	defer span.End()

	var entries []*auditchain.Entry
	err := r.reader.NewSelect().Model(&entries).Order("id ASC").Scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entries, nil
}

// ListRecent returns the newest entries for the compliance feed, oldest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*auditchain.Entry, error) {
	ctx, span := repoTracer.Start(ctx, "AuditRepository.ListRecent")
	defer span.End()

	var entries []*auditchain.Entry
	err := r.reader.NewSelect().Model(&entries).Order("id DESC").Limit(limit).Scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
