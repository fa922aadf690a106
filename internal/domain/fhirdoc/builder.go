// Package fhirdoc materializes stored procedure records into FHIR R4
// documents (Claim, Patient, Practitioner, Coverage, Bundle) and keeps the
// generated documents in an idempotent registry.
package fhirdoc

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/medanchor/medanchor/internal/domain/identity"
	"github.com/medanchor/medanchor/internal/domain/procedure"
	"github.com/medanchor/medanchor/internal/platform/fhir"
)

const (
	ledgerTransactionExtURL = "http://medanchor.io/ledger-transaction"
	patientIdentifierSystem = "http://medanchor.io/patient"
)

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// BuildClaim composes one institutional Claim from a procedure, its patient,
// and the recording practitioner. Pure function of its inputs: the ledger
// provenance extension appears iff the record carries a transaction hash, and
// the consent supportingInfo entry iff a consent digest is stamped.
func BuildClaim(p *procedure.Procedure, pat *procedure.Patient, pr *identity.Practitioner) map[string]interface{} {
	coding := procedure.LookupCoding(p.ProcedureType)

	meta := map[string]interface{}{
		"versionId":   "1",
		"lastUpdated": p.UpdatedAt.UTC().Format(time.RFC3339),
		"source":      "#medanchor",
	}
	if p.LedgerTxHash != nil && *p.LedgerTxHash != "" {
		meta["extension"] = []fhir.Extension{
			{URL: ledgerTransactionExtURL, ValueString: *p.LedgerTxHash},
		}
	}

	claim := map[string]interface{}{
		"resourceType": "Claim",
		"id":           "claim-" + p.ID.String(),
		"status":       "active",
		"type": fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  "http://terminology.hl7.org/CodeSystem/claim-type",
				Code:    "institutional",
				Display: "Institutional",
			}},
		},
		"use": "claim",
		"patient": fhir.Reference{
			Reference: fhir.FormatReference("Patient", pat.PatientHash),
			Display:   fmt.Sprintf("Patient %s...", shortHash(pat.PatientHash)),
		},
		"created": p.CreatedAt.UTC().Format(time.RFC3339),
		"provider": fhir.Reference{
			Reference: fhir.FormatReference("Practitioner", pr.ID.String()),
			Display:   pr.Username,
		},
		"priority": fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  "http://terminology.hl7.org/CodeSystem/processpriority",
				Code:    "normal",
				Display: "Normal",
			}},
		},
		"procedure": []map[string]interface{}{{
			"sequence": 1,
			"procedureCodeableConcept": fhir.CodeableConcept{
				Coding: []fhir.Coding{coding},
				Text:   p.ProcedureType,
			},
			"date": p.CreatedAt.UTC().Format(time.RFC3339),
		}},
		"insurance": []map[string]interface{}{{
			"sequence": 1,
			"focal":    true,
			"coverage": fhir.Reference{
				Reference: fhir.FormatReference("Coverage", "coverage-"+shortHash(pat.PatientHash)),
			},
		}},
		"item": []map[string]interface{}{{
			"sequence":         1,
			"careTeamSequence": []int{1},
			"productOrService": fhir.CodeableConcept{
				Coding: []fhir.Coding{coding},
			},
			"servicedDate": p.CreatedAt.UTC().Format(time.RFC3339),
			"quantity": map[string]interface{}{
				"value": 1,
				"unit":  "procedure",
			},
		}},
		"total": map[string]interface{}{
			"currency": "EUR",
			"value":    0,
		},
		"meta": meta,
	}

	if p.ConsentHash != nil && *p.ConsentHash != "" {
		claim["supportingInfo"] = []map[string]interface{}{{
			"sequence": 1,
			"category": fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System:  "http://terminology.hl7.org/CodeSystem/claim-informationcategory",
					Code:    "consent",
					Display: "Consent",
				}},
			},
			"valueString": *p.ConsentHash,
		}}
	}

	return claim
}

// BuildPatient emits the pseudonymized Patient resource. A display name
// section appears only when a first-name digest was recorded, and it carries
// a truncated display string, never the digest itself.
func BuildPatient(pat *procedure.Patient) map[string]interface{} {
	resource := map[string]interface{}{
		"resourceType": "Patient",
		"id":           pat.PatientHash,
		"identifier": []fhir.Identifier{{
			System: patientIdentifierSystem,
			Value:  pat.PatientHash,
		}},
		"active": true,
		"meta": fhir.Meta{
			VersionID:   "1",
			LastUpdated: pat.CreatedAt,
			Source:      "#medanchor",
			Security: []fhir.CodeableConcept{{
				Coding: []fhir.Coding{{
					System:  "http://terminology.hl7.org/CodeSystem/v3-Confidentiality",
					Code:    "R",
					Display: "Restricted",
				}},
			}},
		},
	}

	if pat.FirstNameHash != nil && *pat.FirstNameHash != "" {
		resource["name"] = []fhir.HumanName{{
			Use:  "official",
			Text: fmt.Sprintf("Patient %s...", shortHash(pat.PatientHash)),
		}}
	}

	return resource
}

// BuildPractitioner emits the Practitioner resource with contact and a
// qualification entry derived from the account role.
func BuildPractitioner(pr *identity.Practitioner) map[string]interface{} {
	resource := pr.ToFHIR()

	resource["telecom"] = []fhir.ContactPoint{{
		System: "email",
		Value:  pr.Email,
		Use:    "work",
	}}
	start := pr.CreatedAt
	resource["qualification"] = []map[string]interface{}{{
		"identifier": []fhir.Identifier{{
			System: "http://medanchor.io/qualification",
			Value:  pr.Role,
		}},
		"code": fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  "http://terminology.hl7.org/CodeSystem/practitioner-role",
				Code:    "doctor",
				Display: "Doctor",
			}},
		},
		"period": fhir.Period{Start: &start},
	}}

	return resource
}

// BuildCoverage emits a minimal coverage shell for a patient. Caller-supplied
// insurance fields are merged in verbatim and may override the defaults.
func BuildCoverage(patientHash string, insurance map[string]interface{}) map[string]interface{} {
	now := time.Now().UTC()
	coverage := map[string]interface{}{
		"resourceType": "Coverage",
		"id":           "coverage-" + shortHash(patientHash),
		"status":       "active",
		"type": fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  "http://terminology.hl7.org/CodeSystem/v3-ActCode",
				Code:    "EHCPOL",
				Display: "extended healthcare",
			}},
		},
		"subscriber":  fhir.Reference{Reference: fhir.FormatReference("Patient", patientHash)},
		"beneficiary": fhir.Reference{Reference: fhir.FormatReference("Patient", patientHash)},
		"period":      fhir.Period{Start: &now},
		"meta": fhir.Meta{
			VersionID:   "1",
			LastUpdated: now,
			Source:      "#medanchor",
		},
	}

	for k, v := range insurance {
		coverage[k] = v
	}

	return coverage
}

// BuildBundle wraps resources in a Bundle whose id is derived from the
// entry ids, so the same document set always yields the same bundle id.
func BuildBundle(resources []map[string]interface{}, bundleType string) map[string]interface{} {
	if bundleType == "" {
		bundleType = "collection"
	}

	entries := make([]map[string]interface{}, 0, len(resources))
	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		fullURL := fmt.Sprintf("%v/%v", r["resourceType"], r["id"])
		ids = append(ids, fullURL)
		entries = append(entries, map[string]interface{}{
			"fullUrl":  fullURL,
			"resource": r,
			"search":   map[string]interface{}{"mode": "match"},
		})
	}

	sort.Strings(ids)
	digest := sha256.New()
	for _, id := range ids {
		digest.Write([]byte(id))
		digest.Write([]byte{'\n'})
	}

	return map[string]interface{}{
		"resourceType": "Bundle",
		"id":           fmt.Sprintf("bundle-%x", digest.Sum(nil)[:4]),
		"type":         bundleType,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"total":        len(entries),
		"entry":        entries,
	}
}

// ValidationResult reports the outcome of a claim structure check.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

var claimStatuses = map[string]bool{
	"active":           true,
	"cancelled":        true,
	"draft":            true,
	"entered-in-error": true,
}

// ValidateClaim checks required top-level fields, the status vocabulary, and
// that every procedure line carries a sequence and a coded concept. It
// accepts both freshly built claims and claims decoded from JSON.
func ValidateClaim(claim map[string]interface{}) ValidationResult {
	result := ValidationResult{Errors: []string{}, Warnings: []string{}}

	for _, field := range []string{"resourceType", "id", "status", "type", "patient", "provider"} {
		if _, ok := claim[field]; !ok {
			result.Errors = append(result.Errors, "missing required field: "+field)
		}
	}

	if rt, _ := claim["resourceType"].(string); rt != "" && rt != "Claim" {
		result.Errors = append(result.Errors, "resourceType must be Claim")
	}

	if status, ok := claim["status"]; ok {
		if s, _ := status.(string); !claimStatuses[s] {
			result.Errors = append(result.Errors, "invalid status: "+fmt.Sprintf("%v", status))
		}
	}

	for i, entry := range procedureEntries(claim) {
		if _, ok := entry["sequence"]; !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("procedure %d: missing sequence", i))
		}
		if _, ok := entry["procedureCodeableConcept"]; !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("procedure %d: missing procedureCodeableConcept", i))
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func procedureEntries(claim map[string]interface{}) []map[string]interface{} {
	switch v := claim["procedure"].(type) {
	case []map[string]interface{}:
		return v
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, e := range v {
			if m, ok := e.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
