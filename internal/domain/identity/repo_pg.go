package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medanchor/medanchor/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const practitionerCols = `id, username, email, full_name, role, wallet_address, is_active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Practitioner) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO practitioner (id, username, email, full_name, role, wallet_address, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Username, p.Email, p.FullName, p.Role, p.WalletAddress, p.IsActive,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return scanPractitioner(r.conn(ctx).QueryRow(ctx,
		`SELECT `+practitionerCols+` FROM practitioner WHERE id = $1`, id))
}

func (r *repoPG) GetByUsername(ctx context.Context, username string) (*Practitioner, error) {
	return scanPractitioner(r.conn(ctx).QueryRow(ctx,
		`SELECT `+practitionerCols+` FROM practitioner WHERE username = $1`, username))
}

func (r *repoPG) GetByWallet(ctx context.Context, wallet string) (*Practitioner, error) {
	return scanPractitioner(r.conn(ctx).QueryRow(ctx,
		`SELECT `+practitionerCols+` FROM practitioner WHERE wallet_address = $1`, wallet))
}

func (r *repoPG) Update(ctx context.Context, p *Practitioner) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE practitioner SET
			email=$2, full_name=$3, role=$4, wallet_address=$5, is_active=$6, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Email, p.FullName, p.Role, p.WalletAddress, p.IsActive,
	)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM practitioner`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+practitionerCols+` FROM practitioner ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Practitioner
	for rows.Next() {
		p, err := scanPractitionerRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	p, err := scanPractitionerRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return p, err
}

func scanPractitionerRow(row rowScanner) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(
		&p.ID, &p.Username, &p.Email, &p.FullName, &p.Role,
		&p.WalletAddress, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
