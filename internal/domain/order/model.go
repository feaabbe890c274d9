package order

import (
	"time"

	"github.com/google/uuid"
)

// Order lifecycle states. Pharmacy orders move through the delivery states,
// lab orders through the sample/result states; both end in completed or
// cancelled. pending-prescription is the gate state for orders that carry a
// prescription-only item and wait on pharmacist review.
const (
	StatusPending             = "pending"
	StatusConfirmed           = "confirmed"
	StatusProcessing          = "processing"
	StatusShipped             = "shipped"
	StatusDelivered           = "delivered"
	StatusReadyForPickup      = "ready-for-pickup"
	StatusSampleCollected     = "sample-collected"
	StatusResultReady         = "result-ready"
	StatusCompleted           = "completed"
	StatusCancelled           = "cancelled"
	StatusPendingPrescription = "pending-prescription"
)

var validStatuses = map[string]bool{
	StatusPending:             true,
	StatusConfirmed:           true,
	StatusProcessing:          true,
	StatusShipped:             true,
	StatusDelivered:           true,
	StatusReadyForPickup:      true,
	StatusSampleCollected:     true,
	StatusResultReady:         true,
	StatusCompleted:           true,
	StatusCancelled:           true,
	StatusPendingPrescription: true,
}

// ValidStatus reports whether s is a member of the order status enum.
func ValidStatus(s string) bool {
	return validStatuses[s]
}

type Order struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       string     `db:"patient_id" json:"patient_id"`
	Status          string     `db:"status" json:"status"`
	PrescriptionID  *uuid.UUID `db:"prescription_id" json:"prescription_id,omitempty"`
	DeliveryAddress *string    `db:"delivery_address" json:"delivery_address,omitempty"`
	Total           float64    `db:"total" json:"total"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`

	Items []*OrderItem `db:"-" json:"items,omitempty"`
}

type OrderItem struct {
	ID            uuid.UUID `db:"id" json:"id"`
	OrderID       uuid.UUID `db:"order_id" json:"order_id"`
	CatalogItemID uuid.UUID `db:"catalog_item_id" json:"catalog_item_id"`
	OfferID       uuid.UUID `db:"offer_id" json:"offer_id"`
	Quantity      int       `db:"quantity" json:"quantity"`
	UnitPrice     float64   `db:"unit_price" json:"unit_price"`
}

// ReservedItem is an order item joined with catalog facts about the entry it
// reserves. Stock was only decremented for medication-kind items, so a
// rejection cascade needs the kind to know which reservations to put back;
// prescription linkage needs the requires-prescription flag.
type ReservedItem struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	OrderID              uuid.UUID `db:"order_id" json:"order_id"`
	CatalogItemID        uuid.UUID `db:"catalog_item_id" json:"catalog_item_id"`
	OfferID              uuid.UUID `db:"offer_id" json:"offer_id"`
	Quantity             int       `db:"quantity" json:"quantity"`
	UnitPrice            float64   `db:"unit_price" json:"unit_price"`
	CatalogKind          string    `db:"catalog_kind" json:"catalog_kind"`
	RequiresPrescription bool      `db:"requires_prescription" json:"requires_prescription"`
}

type CreateOrderInput struct {
	PatientID       string           `json:"patient_id"`
	DeliveryAddress *string          `json:"delivery_address,omitempty"`
	Items           []OrderItemInput `json:"items"`
}

type OrderItemInput struct {
	OfferID  uuid.UUID `json:"offer_id"`
	Quantity int       `json:"quantity"`
}
