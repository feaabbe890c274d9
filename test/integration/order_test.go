package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rxgate/rxgate/internal/domain/catalog"
	"github.com/rxgate/rxgate/internal/domain/order"
	"github.com/rxgate/rxgate/internal/domain/provider"
)

func TestOrderCreate_ReservesStock(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Cetirizine", false)
	p := createTestProvider(t, ctx, nil)
	offer := createTestOffer(t, ctx, p.ID, med.ID, 10, 300)
	patient := uniquePatientID("patient")

	o, err := deps.orders.Create(ctx, order.CreateOrderInput{
		PatientID: patient,
		Items:     []order.OrderItemInput{{OfferID: offer.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if o.Status != order.StatusPending {
		t.Errorf("status = %q, want pending for an over-the-counter basket", o.Status)
	}
	if o.Total != 1200 {
		t.Errorf("total = %.2f, want 1200", o.Total)
	}
	if len(o.Items) != 1 || o.Items[0].Quantity != 4 || o.Items[0].UnitPrice != 300 {
		t.Errorf("items = %+v", o.Items)
	}
	if got := stockOf(t, ctx, offer.ID); got != 6 {
		t.Errorf("stock = %d, want 6 after reservation", got)
	}
}

func TestOrderCreate_PrescriptionItemParksOrder(t *testing.T) {
	ctx := context.Background()
	rxMed := createTestMedication(t, ctx, "Tramadol", true)
	otc := createTestMedication(t, ctx, "Vitamin C", false)
	p := createTestProvider(t, ctx, nil)
	rxOffer := createTestOffer(t, ctx, p.ID, rxMed.ID, 10, 1500)
	otcOffer := createTestOffer(t, ctx, p.ID, otc.ID, 10, 200)

	o := createTestOrder(t, ctx, uniquePatientID("patient"), otcOffer.ID, 1)
	if o.Status != order.StatusPending {
		t.Errorf("otc-only order status = %q, want pending", o.Status)
	}

	mixed, err := deps.orders.Create(ctx, order.CreateOrderInput{
		PatientID: uniquePatientID("patient"),
		Items: []order.OrderItemInput{
			{OfferID: otcOffer.ID, Quantity: 1},
			{OfferID: rxOffer.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("Create mixed: %v", err)
	}
	if mixed.Status != order.StatusPendingPrescription {
		t.Errorf("status = %q, want pending-prescription when any item needs review", mixed.Status)
	}
	// Both reservations happen up front, gated or not.
	if got := stockOf(t, ctx, rxOffer.ID); got != 8 {
		t.Errorf("rx stock = %d, want 8", got)
	}
}

func TestOrderCreate_InsufficientStockRollsBackWholeBasket(t *testing.T) {
	ctx := context.Background()
	plenty := createTestMedication(t, ctx, "Loratadine", false)
	scarce := createTestMedication(t, ctx, "Adrenaline", false)
	p := createTestProvider(t, ctx, nil)
	plentyOffer := createTestOffer(t, ctx, p.ID, plenty.ID, 10, 250)
	scarceOffer := createTestOffer(t, ctx, p.ID, scarce.ID, 1, 4000)
	patient := uniquePatientID("patient")

	_, err := deps.orders.Create(ctx, order.CreateOrderInput{
		PatientID: patient,
		Items: []order.OrderItemInput{
			{OfferID: plentyOffer.ID, Quantity: 3},
			{OfferID: scarceOffer.ID, Quantity: 5},
		},
	})
	if !errors.Is(err, provider.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	// The first item's reservation must roll back with the transaction.
	if got := stockOf(t, ctx, plentyOffer.ID); got != 10 {
		t.Errorf("plenty stock = %d, want untouched 10", got)
	}
	if got := stockOf(t, ctx, scarceOffer.ID); got != 1 {
		t.Errorf("scarce stock = %d, want untouched 1", got)
	}

	_, total, err := deps.orders.ListByPatient(ctx, patient, 20, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 0 {
		t.Errorf("orders = %d, want none persisted after rollback", total)
	}
}

func TestOrderCreate_UnavailableServiceRejected(t *testing.T) {
	ctx := context.Background()
	scan := createTestServiceItem(t, ctx, "X-Ray")
	lab := createTestProvider(t, ctx, &provider.Provider{Kind: provider.KindLaboratory})

	offer := createTestOffer(t, ctx, lab.ID, scan.ID, 0, 8000)
	offer.Available = false
	if err := deps.providers.UpsertOffer(ctx, offer); err != nil {
		t.Fatalf("UpsertOffer: %v", err)
	}

	_, err := deps.orders.Create(ctx, order.CreateOrderInput{
		PatientID: uniquePatientID("patient"),
		Items:     []order.OrderItemInput{{OfferID: offer.ID, Quantity: 1}},
	})
	if !errors.Is(err, order.ErrOfferUnavailable) {
		t.Fatalf("err = %v, want ErrOfferUnavailable", err)
	}
}

func TestOrderCreate_ExpiredOfferRejected(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Old Stock", false)
	p := createTestProvider(t, ctx, nil)

	offer := createTestOffer(t, ctx, p.ID, med.ID, 50, 100)
	offer.ExpiryDate = ptrTime(time.Now().Add(-24 * time.Hour))
	if err := deps.providers.UpsertOffer(ctx, offer); err != nil {
		t.Fatalf("UpsertOffer: %v", err)
	}

	_, err := deps.orders.Create(ctx, order.CreateOrderInput{
		PatientID: uniquePatientID("patient"),
		Items:     []order.OrderItemInput{{OfferID: offer.ID, Quantity: 1}},
	})
	if !errors.Is(err, order.ErrOfferUnavailable) {
		t.Fatalf("err = %v, want ErrOfferUnavailable", err)
	}
	if got := stockOf(t, ctx, offer.ID); got != 50 {
		t.Errorf("stock = %d, want untouched 50", got)
	}
}

func TestOrderCreate_UnknownOffer(t *testing.T) {
	ctx := context.Background()

	_, err := deps.orders.Create(ctx, order.CreateOrderInput{
		PatientID: uniquePatientID("patient"),
		Items:     []order.OrderItemInput{{OfferID: uuid.New(), Quantity: 1}},
	})
	if !errors.Is(err, provider.ErrOfferNotFound) {
		t.Fatalf("err = %v, want ErrOfferNotFound", err)
	}
}

func TestOrderGet_LoadsItems(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Salbutamol", false)
	p := createTestProvider(t, ctx, nil)
	offer := createTestOffer(t, ctx, p.ID, med.ID, 10, 950)

	created := createTestOrder(t, ctx, uniquePatientID("patient"), offer.ID, 2)

	got, err := deps.orders.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].CatalogItemID != med.ID || got.Items[0].OfferID != offer.ID {
		t.Errorf("items = %+v", got.Items)
	}

	if _, err := deps.orders.Get(ctx, uuid.New()); !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("missing order err = %v, want ErrOrderNotFound", err)
	}
}

func TestOrderListByPatient_Pages(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Folic Acid", false)
	p := createTestProvider(t, ctx, nil)
	offer := createTestOffer(t, ctx, p.ID, med.ID, 100, 50)
	patient := uniquePatientID("patient")

	for i := 0; i < 3; i++ {
		createTestOrder(t, ctx, patient, offer.ID, 1)
	}
	createTestOrder(t, ctx, uniquePatientID("other"), offer.ID, 1)

	page, total, err := deps.orders.ListByPatient(ctx, patient, 2, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Errorf("page = %d/%d, want 2 of 3", len(page), total)
	}

	rest, total, err := deps.orders.ListByPatient(ctx, patient, 2, 2)
	if err != nil {
		t.Fatalf("ListByPatient offset: %v", err)
	}
	if total != 3 || len(rest) != 1 {
		t.Errorf("rest = %d/%d, want 1 of 3", len(rest), total)
	}
}

func TestOrderUpdateStatus(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Zinc", false)
	p := createTestProvider(t, ctx, nil)
	offer := createTestOffer(t, ctx, p.ID, med.ID, 10, 120)

	o := createTestOrder(t, ctx, uniquePatientID("patient"), offer.ID, 1)

	if err := deps.orders.UpdateStatus(ctx, o.ID, order.StatusShipped); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := deps.orders.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != order.StatusShipped {
		t.Errorf("status = %q, want shipped", got.Status)
	}

	if err := deps.orders.UpdateStatus(ctx, o.ID, "misplaced"); !errors.Is(err, order.ErrInvalidStatus) {
		t.Fatalf("bad status err = %v, want ErrInvalidStatus", err)
	}
	if err := deps.orders.UpdateStatus(ctx, uuid.New(), order.StatusShipped); !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("missing order err = %v, want ErrOrderNotFound", err)
	}
}

func TestOrderListReservedItems_JoinsCatalogFacts(t *testing.T) {
	ctx := context.Background()
	rxMed := createTestMedication(t, ctx, "Diazepam", true)
	scan := createTestServiceItem(t, ctx, "ECG")
	p := createTestProvider(t, ctx, &provider.Provider{Kind: provider.KindClinic})
	medOffer := createTestOffer(t, ctx, p.ID, rxMed.ID, 10, 2000)
	scanOffer := createTestOffer(t, ctx, p.ID, scan.ID, 0, 12000)

	o, err := deps.orders.Create(ctx, order.CreateOrderInput{
		PatientID: uniquePatientID("patient"),
		Items: []order.OrderItemInput{
			{OfferID: medOffer.ID, Quantity: 2},
			{OfferID: scanOffer.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	reserved, err := deps.orders.ListReservedItems(ctx, o.ID)
	if err != nil {
		t.Fatalf("ListReservedItems: %v", err)
	}
	if len(reserved) != 2 {
		t.Fatalf("reserved = %d, want 2", len(reserved))
	}

	byItem := map[uuid.UUID]*order.ReservedItem{}
	for _, r := range reserved {
		byItem[r.CatalogItemID] = r
	}
	if got := byItem[rxMed.ID]; got == nil || got.CatalogKind != catalog.KindMedication || !got.RequiresPrescription {
		t.Errorf("medication reservation = %+v", got)
	}
	if got := byItem[scan.ID]; got == nil || got.CatalogKind != catalog.KindService || got.RequiresPrescription {
		t.Errorf("service reservation = %+v", got)
	}
}
