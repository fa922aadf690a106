package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Practitioner) error
	GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetByUsername(ctx context.Context, username string) (*Practitioner, error)
	GetByWallet(ctx context.Context, wallet string) (*Practitioner, error)
	Update(ctx context.Context, p *Practitioner) error
	List(ctx context.Context, limit, offset int) ([]*Practitioner, int, error)
}
