package procedure

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Rows carry only one-way digests of
// identity material; raw identity is never stored.
type Patient struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PatientHash   string    `db:"patient_hash" json:"patient_hash"`
	FirstNameHash *string   `db:"first_name_hash" json:"first_name_hash,omitempty"`
	LastNameHash  *string   `db:"last_name_hash" json:"last_name_hash,omitempty"`
	BirthDateHash *string   `db:"birth_date_hash" json:"birth_date_hash,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Procedure maps to the procedure table. LedgerID and LedgerTxHash are set
// only after an actual ledger submission; their absence never invalidates
// the local record.
type Procedure struct {
	ID             uuid.UUID `db:"id" json:"id"`
	LedgerID       *string   `db:"ledger_id" json:"ledger_id,omitempty"`
	PatientHash    string    `db:"patient_hash" json:"patient_hash"`
	PractitionerID uuid.UUID `db:"practitioner_id" json:"practitioner_id"`
	ProcedureType  string    `db:"procedure_type" json:"procedure_type"`
	Duration       int       `db:"duration" json:"duration"`
	ConsentHash    *string   `db:"consent_hash" json:"consent_hash,omitempty"`
	Metadata       *string   `db:"metadata" json:"metadata,omitempty"`
	LedgerTxHash   *string   `db:"ledger_tx_hash" json:"ledger_tx_hash,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Anchored reports whether the record carries a ledger receipt.
func (p *Procedure) Anchored() bool {
	return p.LedgerTxHash != nil && *p.LedgerTxHash != ""
}

// Consent binds one consent artifact to one procedure.
type Consent struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	ProcedureID uuid.UUID  `db:"procedure_id" json:"procedure_id"`
	ConsentHash string     `db:"consent_hash" json:"consent_hash"`
	FilePath    string     `db:"file_path" json:"file_path"`
	SignedAt    *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// ValidAt reports whether the consent's validity window covers t. A consent
// with no window is always valid.
func (c *Consent) ValidAt(t time.Time) bool {
	if c.SignedAt != nil && t.Before(*c.SignedAt) {
		return false
	}
	if c.ExpiresAt != nil && t.After(*c.ExpiresAt) {
		return false
	}
	return true
}

// Stats aggregates procedure counts.
type Stats struct {
	TotalProcedures   int            `json:"total_procedures"`
	UserProcedures    int            `json:"user_procedures"`
	ProcedureTypes    map[string]int `json:"procedure_types"`
	UniquePatients    int            `json:"unique_patients"`
	AnchoredOnLedger  int            `json:"anchored_on_ledger"`
}
