package fhirdoc

import (
	"context"

	"github.com/google/uuid"

	"github.com/medanchor/medanchor/internal/domain/identity"
	"github.com/medanchor/medanchor/internal/domain/procedure"
	"github.com/medanchor/medanchor/internal/platform/apperr"
)

// Read-side slices of the record stores the generators consume.
type ProcedureSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*procedure.Procedure, error)
	ListByPatient(ctx context.Context, patientHash string) ([]*procedure.Procedure, error)
}

type PatientSource interface {
	GetByHash(ctx context.Context, patientHash string) (*procedure.Patient, error)
}

type PractitionerSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Practitioner, error)
}

// Service generates FHIR documents from stored records and registers each
// result for later retrieval. Generation is repeatable: regenerating a
// document for the same id overwrites the prior payload.
type Service struct {
	procedures    ProcedureSource
	patients      PatientSource
	practitioners PractitionerSource
	registry      Registry
}

func NewService(procedures ProcedureSource, patients PatientSource, practitioners PractitionerSource, registry Registry) *Service {
	return &Service{
		procedures:    procedures,
		patients:      patients,
		practitioners: practitioners,
		registry:      registry,
	}
}

func (s *Service) register(ctx context.Context, resource map[string]interface{}) error {
	resourceType, _ := resource["resourceType"].(string)
	resourceID, _ := resource["id"].(string)
	err := s.registry.Upsert(ctx, &GeneratedDocument{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      resource,
	})
	if err != nil {
		return apperr.Persistence("register generated document", err)
	}
	return nil
}

// GenerateClaim builds the claim for one procedure and registers it.
func (s *Service) GenerateClaim(ctx context.Context, procedureID uuid.UUID) (map[string]interface{}, error) {
	proc, err := s.procedures.GetByID(ctx, procedureID)
	if err != nil {
		return nil, apperr.NotFound("procedure", procedureID.String())
	}
	pat, err := s.patients.GetByHash(ctx, proc.PatientHash)
	if err != nil {
		return nil, apperr.NotFound("patient", proc.PatientHash)
	}
	pr, err := s.practitioners.GetByID(ctx, proc.PractitionerID)
	if err != nil {
		return nil, apperr.NotFound("practitioner", proc.PractitionerID.String())
	}

	claim := BuildClaim(proc, pat, pr)
	if err := s.register(ctx, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *Service) GeneratePatient(ctx context.Context, patientHash string) (map[string]interface{}, error) {
	pat, err := s.patients.GetByHash(ctx, patientHash)
	if err != nil {
		return nil, apperr.NotFound("patient", patientHash)
	}

	resource := BuildPatient(pat)
	if err := s.register(ctx, resource); err != nil {
		return nil, err
	}
	return resource, nil
}

func (s *Service) GeneratePractitioner(ctx context.Context, practitionerID uuid.UUID) (map[string]interface{}, error) {
	pr, err := s.practitioners.GetByID(ctx, practitionerID)
	if err != nil {
		return nil, apperr.NotFound("practitioner", practitionerID.String())
	}

	resource := BuildPractitioner(pr)
	if err := s.register(ctx, resource); err != nil {
		return nil, err
	}
	return resource, nil
}

func (s *Service) GenerateCoverage(ctx context.Context, patientHash string, insurance map[string]interface{}) (map[string]interface{}, error) {
	if _, err := s.patients.GetByHash(ctx, patientHash); err != nil {
		return nil, apperr.NotFound("patient", patientHash)
	}

	resource := BuildCoverage(patientHash, insurance)
	if err := s.register(ctx, resource); err != nil {
		return nil, err
	}
	return resource, nil
}

// PatientBundle assembles the patient resource plus one claim per recorded
// procedure. A procedure whose practitioner record is gone is skipped rather
// than failing the whole bundle.
func (s *Service) PatientBundle(ctx context.Context, patientHash string) (map[string]interface{}, error) {
	pat, err := s.patients.GetByHash(ctx, patientHash)
	if err != nil {
		return nil, apperr.NotFound("patient", patientHash)
	}

	resources := []map[string]interface{}{BuildPatient(pat)}

	procs, err := s.procedures.ListByPatient(ctx, patientHash)
	if err != nil {
		return nil, apperr.Persistence("load patient procedures", err)
	}
	for _, proc := range procs {
		pr, err := s.practitioners.GetByID(ctx, proc.PractitionerID)
		if err != nil {
			continue
		}
		resources = append(resources, BuildClaim(proc, pat, pr))
	}

	return BuildBundle(resources, "collection"), nil
}

func (s *Service) Validate(claim map[string]interface{}) ValidationResult {
	return ValidateClaim(claim)
}

func (s *Service) ListResources(ctx context.Context, resourceType string, limit, offset int) ([]*GeneratedDocument, int, error) {
	return s.registry.ListByType(ctx, resourceType, limit, offset)
}

func (s *Service) GetResource(ctx context.Context, resourceID string) (*GeneratedDocument, error) {
	doc, err := s.registry.GetByResourceID(ctx, resourceID)
	if err != nil {
		return nil, apperr.NotFound("fhir resource", resourceID)
	}
	return doc, nil
}

func (s *Service) Stats(ctx context.Context) (*RegistryStats, error) {
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		return nil, apperr.Persistence("aggregate registry stats", err)
	}
	return stats, nil
}
