package provider

import (
	"context"

	"github.com/google/uuid"
)

type ProviderRepository interface {
	Create(ctx context.Context, p *Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	Update(ctx context.Context, p *Provider) error
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Provider, int, error)
	// ListGeocoded returns every active, verified provider that has
	// coordinates; it feeds the Go-side distance computation.
	ListGeocoded(ctx context.Context) ([]*Provider, error)
}

type OfferRepository interface {
	// Upsert inserts or updates the offer keyed on (provider_id,
	// catalog_item_id) and fills in the canonical row id.
	Upsert(ctx context.Context, o *Offer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Offer, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*Offer, error)
	FindEligible(ctx context.Context, f OfferFilter) ([]*AvailableOffer, error)
	// ReserveStock decrements stock only while stock >= qty, returning
	// ErrInsufficientStock when the conditional write matches no row.
	ReserveStock(ctx context.Context, offerID uuid.UUID, qty int) error
	ReleaseStock(ctx context.Context, offerID uuid.UUID, qty int) error
}
