package procedure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medanchor/medanchor/internal/platform/apperr"
	"github.com/medanchor/medanchor/internal/platform/blobstore"
	"github.com/medanchor/medanchor/internal/platform/ledger"
)

// LedgerGateway is the slice of the ledger client the service consumes.
type LedgerGateway interface {
	Submit(ctx context.Context, req ledger.SubmitRequest, signingKey string) (*ledger.Receipt, error)
	GetProcedure(ctx context.Context, id string) (*ledger.Record, error)
	GetPatientProcedures(ctx context.Context, patientHash string) []ledger.Record
}

// TxRunner executes fn inside one durable-store transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Service coordinates durable persistence with best-effort ledger anchoring.
// Local persistence always runs first and is the only step whose failure
// fails the operation; a ledger failure leaves the record un-anchored and
// the operation still succeeds.
type Service struct {
	patients   PatientRepository
	procedures ProcedureRepository
	consents   ConsentRepository
	artifacts  blobstore.Store

	ledger        LedgerGateway
	signingKey    string
	ledgerTimeout time.Duration

	runTx  TxRunner
	logger zerolog.Logger
}

func NewService(patients PatientRepository, procedures ProcedureRepository, consents ConsentRepository, artifacts blobstore.Store) *Service {
	return &Service{
		patients:   patients,
		procedures: procedures,
		consents:   consents,
		artifacts:  artifacts,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
		logger: zerolog.Nop(),
	}
}

// SetLedger enables anchoring. An empty signing key disables the submit step
// while keeping read-through available.
func (s *Service) SetLedger(gw LedgerGateway, signingKey string, timeout time.Duration) {
	s.ledger = gw
	s.signingKey = signingKey
	s.ledgerTimeout = timeout
}

// SetTxRunner makes multi-row writes transactional.
func (s *Service) SetTxRunner(fn TxRunner) {
	s.runTx = fn
}

func (s *Service) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.PatientHash == "" {
		return apperr.Validation("patient_hash is required")
	}
	if existing, err := s.patients.GetByHash(ctx, p.PatientHash); err == nil && existing != nil {
		return apperr.Validation("patient already registered")
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return apperr.Persistence("create patient", err)
	}
	return nil
}

func (s *Service) GetPatient(ctx context.Context, patientHash string) (*Patient, error) {
	p, err := s.patients.GetByHash(ctx, patientHash)
	if err != nil {
		return nil, apperr.NotFound("patient", patientHash)
	}
	return p, nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// -- Procedures --

// CreateProcedure validates and durably persists the record, then attempts
// one ledger submission when a signing key is configured. The ledger-side id
// is the local id, so the two stores stay correlated 1:1.
func (s *Service) CreateProcedure(ctx context.Context, p *Procedure) error {
	if !KnownType(p.ProcedureType) {
		return apperr.Validation(fmt.Sprintf("unsupported procedure type %q, supported: %s",
			p.ProcedureType, strings.Join(Types(), ", ")))
	}
	if p.Duration <= 0 {
		return apperr.Validation("duration must be a positive number of minutes")
	}
	if _, err := s.patients.GetByHash(ctx, p.PatientHash); err != nil {
		return apperr.Validation("unknown patient: " + p.PatientHash)
	}

	if err := s.procedures.Create(ctx, p); err != nil {
		return apperr.Persistence("create procedure", err)
	}

	s.anchor(ctx, p)
	return nil
}

// anchor performs the at-most-one ledger submission attempt. Any failure is
// logged and leaves the record un-anchored; the caller still succeeds.
func (s *Service) anchor(ctx context.Context, p *Procedure) {
	if s.ledger == nil || s.signingKey == "" {
		return
	}

	if s.ledgerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ledgerTimeout)
		defer cancel()
	}

	req := ledger.SubmitRequest{
		ProcedureID:   p.ID.String(),
		PatientHash:   p.PatientHash,
		ProcedureType: p.ProcedureType,
		Duration:      p.Duration,
	}
	if p.ConsentHash != nil {
		req.ConsentHash = *p.ConsentHash
	}
	if p.Metadata != nil {
		req.Metadata = *p.Metadata
	}

	receipt, err := s.ledger.Submit(ctx, req, s.signingKey)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("procedure_id", p.ID.String()).
			Msg("ledger anchoring failed, record kept local-only")
		return
	}

	ledgerID := p.ID.String()
	if err := s.procedures.SetLedgerOutcome(ctx, p.ID, ledgerID, receipt.TxHash); err != nil {
		// The first commit stands on its own; losing the stamp only means
		// the receipt is not reflected locally.
		s.logger.Warn().Err(err).
			Str("procedure_id", p.ID.String()).
			Str("tx_hash", receipt.TxHash).
			Msg("ledger receipt could not be stamped on the record")
		return
	}

	p.LedgerID = &ledgerID
	p.LedgerTxHash = &receipt.TxHash

	s.logger.Info().
		Str("procedure_id", p.ID.String()).
		Str("tx_hash", receipt.TxHash).
		Uint64("block_number", receipt.BlockNumber).
		Msg("procedure anchored on ledger")
}

func (s *Service) GetProcedure(ctx context.Context, id uuid.UUID) (*Procedure, error) {
	p, err := s.procedures.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("procedure", id.String())
	}
	return p, nil
}

func (s *Service) ListProcedures(ctx context.Context, f Filter, limit, offset int) ([]*Procedure, int, error) {
	return s.procedures.List(ctx, f, limit, offset)
}

// PatientHistory returns all procedures for one patient, newest first.
func (s *Service) PatientHistory(ctx context.Context, patientHash string) ([]*Procedure, error) {
	if _, err := s.patients.GetByHash(ctx, patientHash); err != nil {
		return nil, apperr.NotFound("patient", patientHash)
	}
	return s.procedures.ListByPatient(ctx, patientHash)
}

// -- Consents --

// UploadConsent stores the signed artifact, records the consent row, and
// stamps the content digest on the procedure. Only the practitioner who
// recorded the procedure may attach consent to it.
func (s *Service) UploadConsent(ctx context.Context, procedureID, practitionerID uuid.UUID, content io.Reader, signedAt, expiresAt *time.Time) (*Consent, error) {
	p, err := s.procedures.GetByID(ctx, procedureID)
	if err != nil {
		return nil, apperr.NotFound("procedure", procedureID.String())
	}
	if p.PractitionerID != practitionerID {
		return nil, apperr.Authorization("only the recording practitioner may modify this procedure")
	}
	if signedAt != nil && expiresAt != nil && expiresAt.Before(*signedAt) {
		return nil, apperr.Validation("consent expiry precedes signature date")
	}

	artifact, err := s.artifacts.Put(ctx, procedureID.String(), content)
	if err != nil {
		if errors.Is(err, blobstore.ErrEmptyContent) || errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, apperr.Validation(err.Error())
		}
		return nil, apperr.Persistence("store consent artifact", err)
	}

	consent := &Consent{
		ProcedureID: procedureID,
		ConsentHash: artifact.Hash,
		FilePath:    artifact.Locator,
		SignedAt:    signedAt,
		ExpiresAt:   expiresAt,
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.consents.Create(ctx, consent); err != nil {
			return err
		}
		return s.procedures.SetConsentHash(ctx, procedureID, artifact.Hash)
	})
	if err != nil {
		return nil, apperr.Persistence("record consent", err)
	}

	return consent, nil
}

func (s *Service) GetConsent(ctx context.Context, procedureID uuid.UUID) (*Consent, error) {
	c, err := s.consents.GetByProcedure(ctx, procedureID)
	if err != nil {
		return nil, apperr.NotFound("consent for procedure", procedureID.String())
	}
	return c, nil
}

// -- Stats --

func (s *Service) StatsSummary(ctx context.Context, practitionerID uuid.UUID) (*Stats, error) {
	stats, err := s.procedures.Stats(ctx)
	if err != nil {
		return nil, apperr.Persistence("aggregate procedure stats", err)
	}
	mine, err := s.procedures.CountByPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, apperr.Persistence("count practitioner procedures", err)
	}
	stats.UserProcedures = mine
	return stats, nil
}

// -- Ledger read-through --

func (s *Service) LedgerProcedure(ctx context.Context, id string) (*ledger.Record, error) {
	if s.ledger == nil {
		return nil, apperr.NotFound("ledger record", id)
	}
	rec, err := s.ledger.GetProcedure(ctx, id)
	if err != nil {
		return nil, apperr.NotFound("ledger record", id)
	}
	return rec, nil
}

func (s *Service) LedgerPatientHistory(ctx context.Context, patientHash string) []ledger.Record {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.GetPatientProcedures(ctx, patientHash)
}

var _ LedgerGateway = (*ledger.Client)(nil)
