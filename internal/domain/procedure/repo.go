package procedure

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByHash(ctx context.Context, patientHash string) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

// Filter narrows procedure listings.
type Filter struct {
	PatientHash    string
	PractitionerID *uuid.UUID
}

type ProcedureRepository interface {
	Create(ctx context.Context, p *Procedure) error
	GetByID(ctx context.Context, id uuid.UUID) (*Procedure, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Procedure, int, error)
	ListByPatient(ctx context.Context, patientHash string) ([]*Procedure, error)
	SetLedgerOutcome(ctx context.Context, id uuid.UUID, ledgerID, txHash string) error
	SetConsentHash(ctx context.Context, id uuid.UUID, consentHash string) error
	Stats(ctx context.Context) (*Stats, error)
	CountByPractitioner(ctx context.Context, practitionerID uuid.UUID) (int, error)
}

type ConsentRepository interface {
	Create(ctx context.Context, c *Consent) error
	GetByProcedure(ctx context.Context, procedureID uuid.UUID) (*Consent, error)
}
