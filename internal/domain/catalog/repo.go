package catalog

import (
	"context"

	"github.com/google/uuid"
)

type CatalogItemRepository interface {
	Create(ctx context.Context, ci *CatalogItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*CatalogItem, error)
	Update(ctx context.Context, ci *CatalogItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*CatalogItem, int, error)
}
