package provider

import (
	"time"

	"github.com/google/uuid"
)

// Provider kinds. Pharmacies dispense medications, laboratories and clinics
// deliver service-kind catalog items.
const (
	KindPharmacy   = "pharmacy"
	KindLaboratory = "laboratory"
	KindClinic     = "clinic"
)

// Provider maps to the provider table. Latitude/longitude are nullable;
// providers without geocoding never match a geo-filtered search.
type Provider struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Kind           string    `db:"kind" json:"kind"`
	Verified       bool      `db:"verified" json:"verified"`
	Active         bool      `db:"active" json:"active"`
	Latitude       *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude      *float64  `db:"longitude" json:"longitude,omitempty"`
	Address        *string   `db:"address" json:"address,omitempty"`
	State          *string   `db:"state" json:"state,omitempty"`
	LGA            *string   `db:"lga" json:"lga,omitempty"`
	Ward           *string   `db:"ward" json:"ward,omitempty"`
	Phone          *string   `db:"phone" json:"phone,omitempty"`
	Email          *string   `db:"email" json:"email,omitempty"`
	OperatingHours *string   `db:"operating_hours" json:"operating_hours,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Offer maps to the provider_offer table: one provider's price and
// stock/availability for one catalog item, unique on (provider_id,
// catalog_item_id). Stock is reserved by order creation and released by the
// fulfillment coordinator, both through conditional writes.
type Offer struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ProviderID    uuid.UUID  `db:"provider_id" json:"provider_id"`
	CatalogItemID uuid.UUID  `db:"catalog_item_id" json:"catalog_item_id"`
	Stock         int        `db:"stock" json:"stock"`
	Available     bool       `db:"available" json:"available"`
	Price         float64    `db:"price" json:"price"`
	ExpiryDate    *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// AvailabilityQuery describes one availability search. The geo triple
// (Lat, Lng, RadiusKm) is all-or-nothing: a partial triple skips geo
// filtering entirely.
type AvailabilityQuery struct {
	CatalogItemID uuid.UUID
	Quantity      int
	Lat           *float64
	Lng           *float64
	RadiusKm      *float64
	State         string
	LGA           string
	Ward          string
	SortBy        string
}

// AvailableOffer is one eligible offer joined with its provider's display
// fields. Distance is set only for geo-filtered searches, in km rounded to
// two decimals.
type AvailableOffer struct {
	OfferID        uuid.UUID  `json:"offer_id"`
	ProviderID     uuid.UUID  `json:"provider_id"`
	CatalogItemID  uuid.UUID  `json:"catalog_item_id"`
	ProviderName   string     `json:"provider_name"`
	ProviderKind   string     `json:"provider_kind"`
	Address        *string    `json:"address,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	State          *string    `json:"state,omitempty"`
	LGA            *string    `json:"lga,omitempty"`
	Ward           *string    `json:"ward,omitempty"`
	OperatingHours *string    `json:"operating_hours,omitempty"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Price          float64    `json:"price"`
	Stock          int        `json:"stock"`
	Available      bool       `json:"available"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	Distance       *float64   `json:"distance_km,omitempty"`
}

// OfferFilter is the repository-level predicate behind FindAvailability.
// A non-nil ProviderIDs restricts results to those providers; region values
// match case-insensitively when non-empty.
type OfferFilter struct {
	CatalogItemID uuid.UUID
	Quantity      int
	ProviderIDs   []uuid.UUID
	State         string
	LGA           string
	Ward          string
}
