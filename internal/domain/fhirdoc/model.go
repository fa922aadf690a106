package fhirdoc

import (
	"time"

	"github.com/google/uuid"
)

// GeneratedDocument maps to the generated_document table. One row per
// (resource_type, resource_id); regeneration overwrites the payload.
type GeneratedDocument struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	ResourceType string                 `db:"resource_type" json:"resource_type"`
	ResourceID   string                 `db:"resource_id" json:"resource_id"`
	Payload      map[string]interface{} `db:"payload" json:"fhir_data"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time              `db:"updated_at" json:"updated_at"`
}

// RegistryStats aggregates the stored documents.
type RegistryStats struct {
	TotalResources int            `json:"total_resources"`
	ResourceTypes  map[string]int `json:"resource_types"`
	LastCreated    *time.Time     `json:"last_created"`
}
