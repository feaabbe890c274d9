package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rxgate/rxgate/internal/domain/catalog"
)

var (
	// ErrProviderNotFound is returned when a provider id does not resolve.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrOfferNotFound is returned when an offer id does not resolve.
	ErrOfferNotFound = errors.New("offer not found")
	// ErrInvalidCoordinates is returned when a geo triple is out of range,
	// before any query executes.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrInsufficientStock is returned when a conditional stock reservation
	// matches no row, meaning the offer cannot cover the quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
)

var validProviderKinds = map[string]bool{
	KindPharmacy: true, KindLaboratory: true, KindClinic: true,
}

// Sort orders accepted by RankOffers.
const (
	SortCheapest = "cheapest"
	SortClosest  = "closest"
)

// CatalogResolver is the read-only catalog boundary the service needs to
// validate offer targets.
type CatalogResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*catalog.CatalogItem, error)
}

type Service struct {
	providers ProviderRepository
	offers    OfferRepository
	catalog   CatalogResolver
}

func NewService(providers ProviderRepository, offers OfferRepository, cat CatalogResolver) *Service {
	return &Service{providers: providers, offers: offers, catalog: cat}
}

// -- Provider management --

func (s *Service) Register(ctx context.Context, p *Provider) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Kind == "" {
		p.Kind = KindPharmacy
	}
	if !validProviderKinds[p.Kind] {
		return fmt.Errorf("invalid kind: %s", p.Kind)
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return fmt.Errorf("latitude and longitude must be set together")
	}
	if p.Latitude != nil && !validCoordinates(*p.Latitude, *p.Longitude, 1) {
		return ErrInvalidCoordinates
	}
	p.Active = true
	p.Verified = false
	return s.providers.Create(ctx, p)
}

func (s *Service) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return s.providers.GetByID(ctx, id)
}

func (s *Service) UpdateProvider(ctx context.Context, p *Provider) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validProviderKinds[p.Kind] {
		return fmt.Errorf("invalid kind: %s", p.Kind)
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return fmt.Errorf("latitude and longitude must be set together")
	}
	if p.Latitude != nil && !validCoordinates(*p.Latitude, *p.Longitude, 1) {
		return ErrInvalidCoordinates
	}
	return s.providers.Update(ctx, p)
}

func (s *Service) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	return s.providers.SetVerified(ctx, id, verified)
}

func (s *Service) SearchProviders(ctx context.Context, params map[string]string, limit, offset int) ([]*Provider, int, error) {
	return s.providers.Search(ctx, params, limit, offset)
}

// -- Offer management --

func (s *Service) UpsertOffer(ctx context.Context, o *Offer) error {
	if o.ProviderID == uuid.Nil {
		return fmt.Errorf("provider_id is required")
	}
	if o.CatalogItemID == uuid.Nil {
		return fmt.Errorf("catalog_item_id is required")
	}
	if o.Stock < 0 {
		return fmt.Errorf("stock must not be negative")
	}
	if o.Price < 0 {
		return fmt.Errorf("price must not be negative")
	}
	if _, err := s.providers.GetByID(ctx, o.ProviderID); err != nil {
		return err
	}
	if _, err := s.catalog.Resolve(ctx, o.CatalogItemID); err != nil {
		return fmt.Errorf("resolve catalog item: %w", err)
	}
	return s.offers.Upsert(ctx, o)
}

func (s *Service) ListOffers(ctx context.Context, providerID uuid.UUID) ([]*Offer, error) {
	if _, err := s.providers.GetByID(ctx, providerID); err != nil {
		return nil, err
	}
	return s.offers.ListByProvider(ctx, providerID)
}

// GetOffer resolves a single offer, mainly for order placement.
func (s *Service) GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error) {
	return s.offers.GetByID(ctx, id)
}

// ReserveStock conditionally decrements an offer's stock inside the caller's
// transaction.
func (s *Service) ReserveStock(ctx context.Context, offerID uuid.UUID, qty int) error {
	return s.offers.ReserveStock(ctx, offerID, qty)
}

// ReleaseStock returns previously reserved units to an offer.
func (s *Service) ReleaseStock(ctx context.Context, offerID uuid.UUID, qty int) error {
	return s.offers.ReleaseStock(ctx, offerID, qty)
}

// -- Availability --

// FindAvailability returns the unordered set of offers able to fulfill the
// requested catalog item and quantity. The geo triple is only active when all
// of lat, lng and radius are supplied; it is validated before any query runs.
// Distances are computed in Go against provider coordinates and attached to
// the results; zero geo candidates force an impossible provider filter so the
// query cannot degrade to an unfiltered scan.
func (s *Service) FindAvailability(ctx context.Context, q AvailabilityQuery) ([]*AvailableOffer, error) {
	if q.CatalogItemID == uuid.Nil {
		return nil, fmt.Errorf("catalog item id is required")
	}
	if q.Quantity < 1 {
		q.Quantity = 1
	}

	filter := OfferFilter{
		CatalogItemID: q.CatalogItemID,
		Quantity:      q.Quantity,
		State:         strings.TrimSpace(q.State),
		LGA:           strings.TrimSpace(q.LGA),
		Ward:          strings.TrimSpace(q.Ward),
	}

	geoActive := q.Lat != nil && q.Lng != nil && q.RadiusKm != nil
	var distances map[uuid.UUID]float64
	if geoActive {
		if !validCoordinates(*q.Lat, *q.Lng, *q.RadiusKm) {
			return nil, ErrInvalidCoordinates
		}
		candidates, err := s.providers.ListGeocoded(ctx)
		if err != nil {
			return nil, fmt.Errorf("load geocoded providers: %w", err)
		}
		distances = make(map[uuid.UUID]float64)
		ids := make([]uuid.UUID, 0, len(candidates))
		for _, p := range candidates {
			d := haversineKm(*q.Lat, *q.Lng, *p.Latitude, *p.Longitude)
			if d <= *q.RadiusKm {
				distances[p.ID] = d
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			// No provider in range. The nil uuid matches nothing, keeping
			// the filter active instead of falling back to all providers.
			ids = []uuid.UUID{uuid.Nil}
		}
		filter.ProviderIDs = ids
	}

	offers, err := s.offers.FindEligible(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find eligible offers: %w", err)
	}

	if geoActive {
		for _, o := range offers {
			if d, ok := distances[o.ProviderID]; ok {
				rounded := math.Round(d*100) / 100
				o.Distance = &rounded
			}
		}
	}
	return offers, nil
}

// RankOffers orders offers in place: "cheapest" by ascending price,
// "closest" by ascending distance with distance-less offers last. Ties break
// by provider id string order so results are deterministic. Unknown sort
// keys leave the slice untouched.
func RankOffers(offers []*AvailableOffer, sortBy string) {
	switch sortBy {
	case SortCheapest:
		sort.Slice(offers, func(i, j int) bool {
			if offers[i].Price != offers[j].Price {
				return offers[i].Price < offers[j].Price
			}
			return offers[i].ProviderID.String() < offers[j].ProviderID.String()
		})
	case SortClosest:
		sort.Slice(offers, func(i, j int) bool {
			di, dj := offers[i].Distance, offers[j].Distance
			if di == nil || dj == nil {
				if di == nil && dj == nil {
					return offers[i].ProviderID.String() < offers[j].ProviderID.String()
				}
				return dj == nil
			}
			if *di != *dj {
				return *di < *dj
			}
			return offers[i].ProviderID.String() < offers[j].ProviderID.String()
		})
	}
}
