package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/medanchor/medanchor/internal/platform/fhir"
)

// Practitioner maps to the practitioner table.
type Practitioner struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Username      string    `db:"username" json:"username"`
	Email         string    `db:"email" json:"email"`
	FullName      *string   `db:"full_name" json:"full_name,omitempty"`
	Role          string    `db:"role" json:"role"`
	WalletAddress *string   `db:"wallet_address" json:"wallet_address,omitempty"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func (p *Practitioner) ToFHIR() map[string]interface{} {
	name := p.Username
	if p.FullName != nil && *p.FullName != "" {
		name = *p.FullName
	}

	result := map[string]interface{}{
		"resourceType": "Practitioner",
		"id":           p.ID.String(),
		"identifier": []fhir.Identifier{
			{
				System: "http://medanchor.io/practitioner",
				Value:  p.ID.String(),
			},
		},
		"active": p.IsActive,
		"name": []fhir.HumanName{
			{Use: "official", Text: name},
		},
		"meta": fhir.Meta{
			VersionID:   "1",
			LastUpdated: p.UpdatedAt,
			Source:      "#medanchor",
		},
	}

	if p.WalletAddress != nil && *p.WalletAddress != "" {
		result["extension"] = []fhir.Extension{
			{
				URL:         "http://medanchor.io/wallet-address",
				ValueString: *p.WalletAddress,
			},
		}
	}

	return result
}
