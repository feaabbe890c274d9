package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Catalog item kinds. Medications are stock-tracked; services (lab tests,
// consultations) are offered on an availability flag instead.
const (
	KindMedication = "medication"
	KindService    = "service"
)

// CatalogItem maps to the catalog_item table. It is the purchasable unit the
// rest of the system references: provider offers, order items and
// prescription line items all point at a catalog item.
type CatalogItem struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	Name                 string    `db:"name" json:"name"`
	Kind                 string    `db:"kind" json:"kind"`
	Description          *string   `db:"description" json:"description,omitempty"`
	DosageForm           *string   `db:"dosage_form" json:"dosage_form,omitempty"`
	Strength             *string   `db:"strength" json:"strength,omitempty"`
	Manufacturer         *string   `db:"manufacturer" json:"manufacturer,omitempty"`
	RequiresPrescription bool      `db:"requires_prescription" json:"requires_prescription"`
	Active               bool      `db:"active" json:"active"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Stockable reports whether availability for this item is tracked as unit
// stock. Service items only carry an availability flag.
func (ci *CatalogItem) Stockable() bool {
	return ci.Kind == KindMedication
}
