package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	AddLineItems(ctx context.Context, prescriptionID uuid.UUID, items []*LineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListItems(ctx context.Context, prescriptionID uuid.UUID) ([]*LineItem, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Prescription, int, error)
	// LatestActiveByPatient returns the newest pending or verified
	// prescription, ErrPrescriptionNotFound when the patient has none.
	LatestActiveByPatient(ctx context.Context, patientID string) (*Prescription, error)
	// SetStatusIfPending moves the prescription out of pending with a single
	// conditional write. Zero rows affected means another writer got there
	// first (or the row is gone) and reports ErrAlreadyProcessed.
	SetStatusIfPending(ctx context.Context, id uuid.UUID, status string, reason *string) error
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]*Prescription, error)
	CountByStatus(ctx context.Context, status string) (int, error)
}
