package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medanchor/medanchor/internal/platform/apperr"
	"github.com/medanchor/medanchor/internal/platform/ledger"
)

// Roles a practitioner account can hold.
var validRoles = map[string]bool{
	"practitioner": true,
	"admin":        true,
}

// LedgerVerifier answers whether an account is registered on the ledger.
type LedgerVerifier interface {
	IsPractitioner(ctx context.Context, account string) bool
}

type Service struct {
	repo   Repository
	ledger LedgerVerifier
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SetLedger attaches an optional ledger client used to cross-check
// practitioner registration. A nil ledger disables the check.
func (s *Service) SetLedger(l LedgerVerifier) {
	s.ledger = l
}

func (s *Service) Register(ctx context.Context, p *Practitioner) error {
	p.Username = strings.TrimSpace(p.Username)
	if p.Username == "" {
		return apperr.Validation("username is required")
	}
	if p.Email == "" {
		return apperr.Validation("email is required")
	}
	if p.Role == "" {
		p.Role = "practitioner"
	}
	if !validRoles[p.Role] {
		return apperr.Validation("invalid role: " + p.Role)
	}

	if existing, err := s.repo.GetByUsername(ctx, p.Username); err == nil && existing != nil {
		return apperr.Validation("username already registered: " + p.Username)
	}

	p.IsActive = true
	if err := s.repo.Create(ctx, p); err != nil {
		return apperr.Persistence("create practitioner", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("practitioner", id.String())
	}
	return p, nil
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*Practitioner, error) {
	p, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperr.NotFound("practitioner", username)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Practitioner, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("practitioner", id.String())
	}
	p.IsActive = active
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, apperr.Persistence("update practitioner", err)
	}
	return p, nil
}

// VerifyLedgerRegistration reports whether the practitioner's ledger account
// is registered on the external ledger. Returns false when the practitioner
// has no account or the ledger is not configured.
func (s *Service) VerifyLedgerRegistration(ctx context.Context, id uuid.UUID) (bool, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, apperr.NotFound("practitioner", id.String())
	}
	if s.ledger == nil || p.WalletAddress == nil || *p.WalletAddress == "" {
		return false, nil
	}
	return s.ledger.IsPractitioner(ctx, *p.WalletAddress), nil
}

var _ LedgerVerifier = (*ledger.Client)(nil)
