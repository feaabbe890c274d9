package order

import (
	"context"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	AddItem(ctx context.Context, item *OrderItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]*OrderItem, error)
	ListReservedItems(ctx context.Context, orderID uuid.UUID) ([]*ReservedItem, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Order, int, error)
	ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	LinkPrescription(ctx context.Context, orderID, prescriptionID uuid.UUID) error
}
