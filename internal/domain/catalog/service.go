package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrItemNotFound is returned when a catalog item id does not resolve.
var ErrItemNotFound = errors.New("catalog item not found")

var validKinds = map[string]bool{
	KindMedication: true,
	KindService:    true,
}

type Service struct {
	items CatalogItemRepository
}

func NewService(items CatalogItemRepository) *Service {
	return &Service{items: items}
}

func (s *Service) CreateItem(ctx context.Context, ci *CatalogItem) error {
	ci.Name = strings.TrimSpace(ci.Name)
	if ci.Name == "" {
		return fmt.Errorf("name is required")
	}
	if ci.Kind == "" {
		ci.Kind = KindMedication
	}
	if !validKinds[ci.Kind] {
		return fmt.Errorf("invalid kind: %s", ci.Kind)
	}
	ci.Active = true
	return s.items.Create(ctx, ci)
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	return s.items.GetByID(ctx, id)
}

// Resolve looks up a catalog item for other services that need to check its
// kind or prescription requirement. Inactive items resolve the same as
// missing ones so nothing new can reference a retired item.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	ci, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ci.Active {
		return nil, ErrItemNotFound
	}
	return ci, nil
}

func (s *Service) UpdateItem(ctx context.Context, ci *CatalogItem) error {
	ci.Name = strings.TrimSpace(ci.Name)
	if ci.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validKinds[ci.Kind] {
		return fmt.Errorf("invalid kind: %s", ci.Kind)
	}
	return s.items.Update(ctx, ci)
}

func (s *Service) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return s.items.Delete(ctx, id)
}

func (s *Service) SearchItems(ctx context.Context, params map[string]string, limit, offset int) ([]*CatalogItem, int, error) {
	return s.items.Search(ctx, params, limit, offset)
}
