package fhirdoc

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medanchor/medanchor/internal/platform/db"
)

type registryPG struct {
	pool *pgxpool.Pool
}

func NewRegistry(pool *pgxpool.Pool) Registry {
	return &registryPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *registryPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const docCols = `id, resource_type, resource_id, payload, created_at, updated_at`

func (r *registryPG) Upsert(ctx context.Context, doc *GeneratedDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO generated_document (id, resource_type, resource_id, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource_type, resource_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		doc.ID, doc.ResourceType, doc.ResourceID, doc.Payload,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (r *registryPG) GetByResourceID(ctx context.Context, resourceID string) (*GeneratedDocument, error) {
	var doc GeneratedDocument
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+docCols+` FROM generated_document WHERE resource_id = $1`, resourceID,
	).Scan(&doc.ID, &doc.ResourceType, &doc.ResourceID, &doc.Payload, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *registryPG) ListByType(ctx context.Context, resourceType string, limit, offset int) ([]*GeneratedDocument, int, error) {
	where := ` WHERE ($1 = '' OR resource_type = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM generated_document`+where, resourceType,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+docCols+` FROM generated_document`+where+` ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		resourceType, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*GeneratedDocument
	for rows.Next() {
		var doc GeneratedDocument
		if err := rows.Scan(&doc.ID, &doc.ResourceType, &doc.ResourceID, &doc.Payload, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &doc)
	}
	return out, total, rows.Err()
}

func (r *registryPG) Stats(ctx context.Context) (*RegistryStats, error) {
	stats := &RegistryStats{ResourceTypes: make(map[string]int)}

	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*), MAX(created_at) FROM generated_document`,
	).Scan(&stats.TotalResources, &stats.LastCreated)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT resource_type, COUNT(*) FROM generated_document GROUP BY resource_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.ResourceTypes[t] = n
	}
	return stats, rows.Err()
}
