package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rxgate/rxgate/internal/domain/catalog"
	"github.com/rxgate/rxgate/internal/domain/order"
)

var (
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrAlreadyProcessed     = errors.New("prescription already processed")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrNoEligibleItems      = errors.New("order has no prescription-requiring items")
)

// OrderLinker is the slice of the order service the prescription aggregate
// needs: resolving an order for linkage checks and parking it behind the
// prescription gate. Satisfied by order.Service.
type OrderLinker interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	ListReservedItems(ctx context.Context, orderID uuid.UUID) ([]*order.ReservedItem, error)
	LinkPrescription(ctx context.Context, orderID, prescriptionID uuid.UUID) error
}

// CatalogResolver resolves active catalog items. Satisfied by catalog.Service.
type CatalogResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*catalog.CatalogItem, error)
}

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DefaultCountryCode is used when config does not supply one. Ten-digit
// national numbers behind the 234 prefix.
const DefaultCountryCode = "234"

type Service struct {
	repo        PrescriptionRepository
	orders      OrderLinker
	catalog     CatalogResolver
	tx          TxRunner
	countryCode string
}

func NewService(repo PrescriptionRepository, orders OrderLinker, catalog CatalogResolver, tx TxRunner, countryCode string) *Service {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return &Service{repo: repo, orders: orders, catalog: catalog, tx: tx, countryCode: countryCode}
}

// Upload creates a pending prescription. The caller identifies the patient
// either with an opaque patient_id or through a contact: without a
// patient_id at least one of phone/email must normalize and the normalized
// value becomes the patient key (phone wins when both are given). With an
// order linked, the order must belong to the same patient and hold at least
// one prescription-requiring item; it moves to pending-prescription in the
// same transaction that persists the prescription.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*Prescription, error) {
	fileKey := strings.TrimSpace(in.FileKey)
	if fileKey == "" {
		return nil, fmt.Errorf("file_key is required")
	}

	var phone, email *string
	if raw := strings.TrimSpace(in.Phone); raw != "" {
		v, err := NormalizePhone(raw, s.countryCode)
		if err != nil {
			return nil, err
		}
		phone = &v
	}
	if raw := strings.TrimSpace(in.Email); raw != "" {
		v, err := NormalizeEmail(raw)
		if err != nil {
			return nil, err
		}
		email = &v
	}

	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		switch {
		case phone != nil:
			patientID = *phone
		case email != nil:
			patientID = *email
		default:
			return nil, ErrInvalidContact
		}
	}

	items, err := s.buildLineItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	p := &Prescription{
		PatientID:    patientID,
		ContactPhone: phone,
		ContactEmail: email,
		FileKey:      fileKey,
		Status:       StatusPending,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if in.OrderID != nil {
			if err := s.checkOrderEligible(ctx, *in.OrderID, patientID); err != nil {
				return err
			}
		}
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		if len(items) > 0 {
			if err := s.repo.AddLineItems(ctx, p.ID, items); err != nil {
				return err
			}
			p.Items = items
		}
		if in.OrderID != nil {
			return s.orders.LinkPrescription(ctx, *in.OrderID, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) checkOrderEligible(ctx context.Context, orderID uuid.UUID, patientID string) error {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	// A mismatched patient looks identical to a missing order on purpose.
	if o.PatientID != patientID {
		return order.ErrOrderNotFound
	}
	reserved, err := s.orders.ListReservedItems(ctx, orderID)
	if err != nil {
		return err
	}
	for _, it := range reserved {
		if it.RequiresPrescription {
			return nil
		}
	}
	return ErrNoEligibleItems
}

func (s *Service) buildLineItems(ctx context.Context, in []LineItemInput) ([]*LineItem, error) {
	items := make([]*LineItem, 0, len(in))
	for _, it := range in {
		if it.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
		if _, err := s.catalog.Resolve(ctx, it.CatalogItemID); err != nil {
			return nil, fmt.Errorf("resolve catalog item: %w", err)
		}
		items = append(items, &LineItem{
			CatalogItemID: it.CatalogItemID,
			Quantity:      it.Quantity,
			Instructions:  it.Instructions,
		})
	}
	return items, nil
}

// AddLineItems appends digitized line items to a still-pending prescription.
// The whole batch lands in one transaction; the pending check runs inside it
// so a concurrent decision cannot interleave a partial write.
func (s *Service) AddLineItems(ctx context.Context, prescriptionID uuid.UUID, in []LineItemInput) ([]*LineItem, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("at least one item is required")
	}
	items, err := s.buildLineItems(ctx, in)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetByID(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if p.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		return s.repo.AddLineItems(ctx, prescriptionID, items)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SetStatusIfPending applies a terminal verification status to a pending
// prescription. Zero rows means another reviewer got there first. Runs in
// the caller's transaction when one is on the context.
func (s *Service) SetStatusIfPending(ctx context.Context, id uuid.UUID, status string, reason *string) error {
	return s.repo.SetStatusIfPending(ctx, id, status, reason)
}

// ListPendingCreatedBefore returns pending prescriptions older than the cutoff.
func (s *Service) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]*Prescription, error) {
	return s.repo.ListPendingCreatedBefore(ctx, cutoff)
}

// CountPending reports the size of the review backlog.
func (s *Service) CountPending(ctx context.Context) (int, error) {
	return s.repo.CountByStatus(ctx, StatusPending)
}

// Get returns the prescription with its line items loaded.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Items = items
	return p, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Prescription, int, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// StatusesFor projects the review state of the requested catalog item ids
// against the patient's most recent active prescription. Ids that are not
// covered, or not parseable as uuids, come back as none; the call never
// fails on bad input.
func (s *Service) StatusesFor(ctx context.Context, patientID string, ids []string) (map[string]ItemStatus, error) {
	out := make(map[string]ItemStatus, len(ids))
	parsed := make(map[uuid.UUID][]string)
	for _, raw := range ids {
		out[raw] = ItemStatusNone
		if id, err := uuid.Parse(raw); err == nil {
			parsed[id] = append(parsed[id], raw)
		}
	}
	if len(parsed) == 0 {
		return out, nil
	}

	p, err := s.repo.LatestActiveByPatient(ctx, patientID)
	if errors.Is(err, ErrPrescriptionNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListItems(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		for _, raw := range parsed[it.CatalogItemID] {
			out[raw] = ItemStatus(p.Status)
		}
	}
	return out, nil
}
