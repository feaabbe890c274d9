package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Prescription review states. A prescription is append-only: it enters
// pending and leaves through exactly one of the other three states, after
// which it is immutable.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// ItemStatus is the projected review state of a single catalog item from the
// patient's perspective. none means the item is not covered by any active
// prescription.
type ItemStatus string

const ItemStatusNone ItemStatus = "none"

type Prescription struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       string    `db:"patient_id" json:"patient_id"`
	ContactPhone    *string   `db:"contact_phone" json:"contact_phone,omitempty"`
	ContactEmail    *string   `db:"contact_email" json:"contact_email,omitempty"`
	FileKey         string    `db:"file_key" json:"file_key"`
	Status          string    `db:"status" json:"status"`
	Verified        bool      `db:"verified" json:"verified"`
	RejectionReason *string   `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	Items []*LineItem `db:"-" json:"items,omitempty"`
}

type LineItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	CatalogItemID  uuid.UUID `db:"catalog_item_id" json:"catalog_item_id"`
	Quantity       int       `db:"quantity" json:"quantity"`
	Instructions   *string   `db:"instructions" json:"instructions,omitempty"`
}

type UploadInput struct {
	PatientID string          `json:"patient_id"`
	Phone     string          `json:"phone"`
	Email     string          `json:"email"`
	FileKey   string          `json:"file_key"`
	OrderID   *uuid.UUID      `json:"order_id,omitempty"`
	Items     []LineItemInput `json:"items,omitempty"`
}

type LineItemInput struct {
	CatalogItemID uuid.UUID `json:"catalog_item_id"`
	Quantity      int       `json:"quantity"`
	Instructions  *string   `json:"instructions,omitempty"`
}
