package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rxgate/rxgate/internal/domain/catalog"
	"github.com/rxgate/rxgate/internal/domain/provider"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOfferUnavailable = errors.New("offer not available")
	ErrInvalidStatus    = errors.New("invalid order status")
)

// OfferSource resolves offers and moves stock. Satisfied by provider.Service.
type OfferSource interface {
	GetOffer(ctx context.Context, id uuid.UUID) (*provider.Offer, error)
	ReserveStock(ctx context.Context, offerID uuid.UUID, quantity int) error
}

// CatalogSource resolves active catalog items. Satisfied by catalog.Service.
type CatalogSource interface {
	Resolve(ctx context.Context, id uuid.UUID) (*catalog.CatalogItem, error)
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo    OrderRepository
	offers  OfferSource
	catalog CatalogSource
	tx      TxRunner
}

func NewService(repo OrderRepository, offers OfferSource, catalog CatalogSource, tx TxRunner) *Service {
	return &Service{repo: repo, offers: offers, catalog: catalog, tx: tx}
}

// Create places an order against concrete offers. Stock for medication-kind
// items is reserved in the same transaction that persists the order, so a
// failed reservation leaves no partial decrement behind. When any item
// requires a prescription the order starts in pending-prescription instead of
// pending and stays there until a pharmacist decides.
func (s *Service) Create(ctx context.Context, in CreateOrderInput) (*Order, error) {
	in.PatientID = strings.TrimSpace(in.PatientID)
	if in.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("at least one item is required")
	}
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return nil, fmt.Errorf("quantity must be at least 1")
		}
	}

	var o *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		type line struct {
			offer *provider.Offer
			item  *catalog.CatalogItem
			qty   int
		}

		requiresRx := false
		total := 0.0
		lines := make([]line, 0, len(in.Items))

		for _, it := range in.Items {
			offer, err := s.offers.GetOffer(ctx, it.OfferID)
			if err != nil {
				return fmt.Errorf("resolve offer: %w", err)
			}
			if offer.ExpiryDate != nil && !offer.ExpiryDate.After(time.Now()) {
				return ErrOfferUnavailable
			}

			ci, err := s.catalog.Resolve(ctx, offer.CatalogItemID)
			if err != nil {
				return fmt.Errorf("resolve catalog item: %w", err)
			}
			if ci.RequiresPrescription {
				requiresRx = true
			}

			if ci.Stockable() {
				if err := s.offers.ReserveStock(ctx, offer.ID, it.Quantity); err != nil {
					return err
				}
			} else if !offer.Available {
				return ErrOfferUnavailable
			}

			total += offer.Price * float64(it.Quantity)
			lines = append(lines, line{offer: offer, item: ci, qty: it.Quantity})
		}

		status := StatusPending
		if requiresRx {
			status = StatusPendingPrescription
		}

		o = &Order{
			PatientID:       in.PatientID,
			Status:          status,
			DeliveryAddress: in.DeliveryAddress,
			Total:           total,
		}
		if err := s.repo.Create(ctx, o); err != nil {
			return err
		}

		for _, ln := range lines {
			item := &OrderItem{
				OrderID:       o.ID,
				CatalogItemID: ln.item.ID,
				OfferID:       ln.offer.ID,
				Quantity:      ln.qty,
				UnitPrice:     ln.offer.Price,
			}
			if err := s.repo.AddItem(ctx, item); err != nil {
				return err
			}
			o.Items = append(o.Items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Get returns the order with its items loaded.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Order, int, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Order, error) {
	return s.repo.ListByPrescription(ctx, prescriptionID)
}

func (s *Service) ListReservedItems(ctx context.Context, orderID uuid.UUID) ([]*ReservedItem, error) {
	return s.repo.ListReservedItems(ctx, orderID)
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	if !ValidStatus(status) {
		return ErrInvalidStatus
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

// LinkPrescription attaches a prescription to the order and parks it in
// pending-prescription. Runs inside the caller's transaction when one is
// active on ctx.
func (s *Service) LinkPrescription(ctx context.Context, orderID, prescriptionID uuid.UUID) error {
	return s.repo.LinkPrescription(ctx, orderID, prescriptionID)
}
