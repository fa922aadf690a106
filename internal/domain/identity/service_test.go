package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/medanchor/medanchor/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	practitioners map[uuid.UUID]*Practitioner
}

func newMockRepo() *mockRepo {
	return &mockRepo{practitioners: make(map[uuid.UUID]*Practitioner)}
}

func (m *mockRepo) Create(_ context.Context, p *Practitioner) error {
	p.ID = uuid.New()
	m.practitioners[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	p, ok := m.practitioners[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func (m *mockRepo) GetByUsername(_ context.Context, username string) (*Practitioner, error) {
	for _, p := range m.practitioners {
		if p.Username == username {
			return p, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockRepo) GetByWallet(_ context.Context, wallet string) (*Practitioner, error) {
	for _, p := range m.practitioners {
		if p.WalletAddress != nil && *p.WalletAddress == wallet {
			return p, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockRepo) Update(_ context.Context, p *Practitioner) error {
	m.practitioners[p.ID] = p
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Practitioner, int, error) {
	var out []*Practitioner
	for _, p := range m.practitioners {
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockVerifier struct {
	registered map[string]bool
}

func (m *mockVerifier) IsPractitioner(_ context.Context, account string) bool {
	return m.registered[account]
}

// -- Tests --

func TestRegister(t *testing.T) {
	svc := NewService(newMockRepo())

	p := &Practitioner{Username: "dr.martin", Email: "martin@example.org"}
	if err := svc.Register(context.Background(), p); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if p.Role != "practitioner" {
		t.Errorf("role defaulted to %q, want practitioner", p.Role)
	}
	if !p.IsActive {
		t.Error("new accounts should be active")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc := NewService(newMockRepo())

	tests := []struct {
		name string
		p    *Practitioner
	}{
		{"missing username", &Practitioner{Email: "a@b.org"}},
		{"missing email", &Practitioner{Username: "dr.x"}},
		{"invalid role", &Practitioner{Username: "dr.x", Email: "a@b.org", Role: "superuser"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Register(context.Background(), tt.p)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("Register() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc := NewService(newMockRepo())

	first := &Practitioner{Username: "dr.martin", Email: "m@example.org"}
	if err := svc.Register(context.Background(), first); err != nil {
		t.Fatalf("first Register() error: %v", err)
	}

	dup := &Practitioner{Username: "dr.martin", Email: "other@example.org"}
	err := svc.Register(context.Background(), dup)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("duplicate Register() error = %v, want ValidationError", err)
	}
}

func TestSetActive(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	p := &Practitioner{Username: "dr.martin", Email: "m@example.org"}
	if err := svc.Register(context.Background(), p); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	got, err := svc.SetActive(context.Background(), p.ID, false)
	if err != nil {
		t.Fatalf("SetActive() error: %v", err)
	}
	if got.IsActive {
		t.Error("expected account to be deactivated")
	}
}

func TestVerifyLedgerRegistration(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	wallet := "0xabc"
	p := &Practitioner{Username: "dr.martin", Email: "m@example.org", WalletAddress: &wallet}
	if err := svc.Register(context.Background(), p); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// No ledger configured: registration cannot be confirmed.
	ok, err := svc.VerifyLedgerRegistration(context.Background(), p.ID)
	if err != nil || ok {
		t.Errorf("without ledger: got (%v, %v), want (false, nil)", ok, err)
	}

	svc.SetLedger(&mockVerifier{registered: map[string]bool{"0xabc": true}})
	ok, err = svc.VerifyLedgerRegistration(context.Background(), p.ID)
	if err != nil || !ok {
		t.Errorf("with ledger: got (%v, %v), want (true, nil)", ok, err)
	}

	// Unknown practitioner.
	if _, err := svc.VerifyLedgerRegistration(context.Background(), uuid.New()); err == nil {
		t.Error("expected error for unknown practitioner")
	}
}
