package fhirdoc

import "context"

type Registry interface {
	Upsert(ctx context.Context, doc *GeneratedDocument) error
	GetByResourceID(ctx context.Context, resourceID string) (*GeneratedDocument, error)
	ListByType(ctx context.Context, resourceType string, limit, offset int) ([]*GeneratedDocument, int, error)
	Stats(ctx context.Context) (*RegistryStats, error)
}
