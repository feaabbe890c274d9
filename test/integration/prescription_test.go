package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rxgate/rxgate/internal/domain/order"
	"github.com/rxgate/rxgate/internal/domain/prescription"
)

func TestPrescriptionUpload_PersistsContactAndItems(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Atorvastatin", true)
	patient := uniquePatientID("patient")

	p, err := deps.prescriptions.Upload(ctx, prescription.UploadInput{
		PatientID: patient,
		Phone:     "0801 555 0199",
		Email:     "Ada.Obi@Example.COM",
		FileKey:   "blob-" + uuid.NewString(),
		Items: []prescription.LineItemInput{
			{CatalogItemID: med.ID, Quantity: 2, Instructions: ptrStr("one at night")},
		},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if p.Status != prescription.StatusPending {
		t.Errorf("status = %q, want pending", p.Status)
	}

	got, err := deps.prescriptions.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PatientID != patient {
		t.Errorf("patient = %q, want the explicit id to win", got.PatientID)
	}
	if got.ContactPhone == nil || *got.ContactPhone != "+2348015550199" {
		t.Errorf("phone = %v, want normalized +2348015550199", got.ContactPhone)
	}
	if got.ContactEmail == nil || *got.ContactEmail != "ada.obi@example.com" {
		t.Errorf("email = %v, want lowercased", got.ContactEmail)
	}
	if len(got.Items) != 1 || got.Items[0].CatalogItemID != med.ID || got.Items[0].Quantity != 2 {
		t.Errorf("items = %+v", got.Items)
	}
	if got.Items[0].Instructions == nil || *got.Items[0].Instructions != "one at night" {
		t.Errorf("instructions = %v", got.Items[0].Instructions)
	}
}

func TestPrescriptionUpload_PhoneBecomesPatientKey(t *testing.T) {
	ctx := context.Background()
	phone := uniquePhone()

	p, err := deps.prescriptions.Upload(ctx, prescription.UploadInput{
		Phone:   phone,
		FileKey: "blob-" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if p.PatientID != phone {
		t.Errorf("patient = %q, want the normalized phone %q", p.PatientID, phone)
	}

	_, total, err := deps.prescriptions.ListByPatient(ctx, phone, 20, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 1 {
		t.Errorf("prescriptions under phone key = %d, want 1", total)
	}
}

func TestPrescriptionUpload_InvalidContactRejected(t *testing.T) {
	ctx := context.Background()

	_, err := deps.prescriptions.Upload(ctx, prescription.UploadInput{
		Phone:   "12345",
		FileKey: "blob-" + uuid.NewString(),
	})
	if !errors.Is(err, prescription.ErrInvalidContact) {
		t.Fatalf("err = %v, want ErrInvalidContact", err)
	}

	_, err = deps.prescriptions.Upload(ctx, prescription.UploadInput{FileKey: "blob-" + uuid.NewString()})
	if !errors.Is(err, prescription.ErrInvalidContact) {
		t.Fatalf("no identification err = %v, want ErrInvalidContact", err)
	}
}

func TestPrescriptionUpload_UnknownItemRejected(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Prednisolone", true)
	patient := uniquePatientID("patient")

	_, err := deps.prescriptions.Upload(ctx, prescription.UploadInput{
		PatientID: patient,
		FileKey:   "blob-" + uuid.NewString(),
		Items: []prescription.LineItemInput{
			{CatalogItemID: med.ID, Quantity: 1},
			{CatalogItemID: uuid.New(), Quantity: 1},
		},
	})
	if err == nil {
		t.Fatal("upload with an unknown item must fail")
	}

	_, total, err := deps.prescriptions.ListByPatient(ctx, patient, 20, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 0 {
		t.Errorf("prescriptions = %d, want none persisted", total)
	}
}

func TestPrescriptionUpload_LinksGatedOrder(t *testing.T) {
	ctx := context.Background()
	rxMed := createTestMedication(t, ctx, "Codeine", true)
	p := createTestProvider(t, ctx, nil)
	offer := createTestOffer(t, ctx, p.ID, rxMed.ID, 10, 1800)
	patient := uniquePatientID("patient")

	o := createTestOrder(t, ctx, patient, offer.ID, 1)
	if o.Status != order.StatusPendingPrescription {
		t.Fatalf("order status = %q, want pending-prescription", o.Status)
	}

	rx := createTestPrescription(t, ctx, patient, &o.ID)

	linked, err := deps.orders.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if linked.PrescriptionID == nil || *linked.PrescriptionID != rx.ID {
		t.Errorf("order prescription_id = %v, want %s", linked.PrescriptionID, rx.ID)
	}
	if linked.Status != order.StatusPendingPrescription {
		t.Errorf("order status = %q, must stay parked until review", linked.Status)
	}
}

func TestPrescriptionUpload_OrderChecks(t *testing.T) {
	ctx := context.Background()
	otc := createTestMedication(t, ctx, "Multivitamin", false)
	p := createTestProvider(t, ctx, nil)
	offer := createTestOffer(t, ctx, p.ID, otc.ID, 10, 150)
	patient := uniquePatientID("patient")

	otcOrder := createTestOrder(t, ctx, patient, offer.ID, 1)

	// An order with no prescription-requiring items cannot be linked.
	_, err := deps.prescriptions.Upload(ctx, prescription.UploadInput{
		PatientID: patient,
		FileKey:   "blob-" + uuid.NewString(),
		OrderID:   &otcOrder.ID,
	})
	if !errors.Is(err, prescription.ErrNoEligibleItems) {
		t.Fatalf("err = %v, want ErrNoEligibleItems", err)
	}

	// Another patient's order looks like a missing one.
	_, err = deps.prescriptions.Upload(ctx, prescription.UploadInput{
		PatientID: uniquePatientID("other"),
		FileKey:   "blob-" + uuid.NewString(),
		OrderID:   &otcOrder.ID,
	})
	if !errors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("cross-patient err = %v, want ErrOrderNotFound", err)
	}
}

func TestPrescriptionAddLineItems(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Clarithromycin", true)
	patient := uniquePatientID("patient")
	rx := createTestPrescription(t, ctx, patient, nil)

	items, err := deps.prescriptions.AddLineItems(ctx, rx.ID, []prescription.LineItemInput{
		{CatalogItemID: med.ID, Quantity: 3},
	})
	if err != nil {
		t.Fatalf("AddLineItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	got, err := deps.prescriptions.Get(ctx, rx.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 3 {
		t.Errorf("persisted items = %+v", got.Items)
	}

	// Once decided the prescription is immutable.
	if err := deps.prescriptions.SetStatusIfPending(ctx, rx.ID, prescription.StatusVerified, nil); err != nil {
		t.Fatalf("SetStatusIfPending: %v", err)
	}
	_, err = deps.prescriptions.AddLineItems(ctx, rx.ID, []prescription.LineItemInput{
		{CatalogItemID: med.ID, Quantity: 1},
	})
	if !errors.Is(err, prescription.ErrAlreadyProcessed) {
		t.Fatalf("err = %v, want ErrAlreadyProcessed", err)
	}
}

func TestPrescriptionListByPatient_CountsAndPages(t *testing.T) {
	ctx := context.Background()
	patient := uniquePatientID("patient")

	for i := 0; i < 3; i++ {
		createTestPrescription(t, ctx, patient, nil)
	}
	createTestPrescription(t, ctx, uniquePatientID("other"), nil)

	page, total, err := deps.prescriptions.ListByPatient(ctx, patient, 2, 0)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Errorf("page = %d/%d, want 2 of 3", len(page), total)
	}
}

func TestPrescriptionCountPending_TracksBacklog(t *testing.T) {
	ctx := context.Background()

	before, err := deps.prescriptions.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}

	patient := uniquePatientID("patient")
	createTestPrescription(t, ctx, patient, nil)
	decided := createTestPrescription(t, ctx, patient, nil)
	if err := deps.prescriptions.SetStatusIfPending(ctx, decided.ID, prescription.StatusRejected, ptrStr("blurry")); err != nil {
		t.Fatalf("SetStatusIfPending: %v", err)
	}

	after, err := deps.prescriptions.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if after-before != 1 {
		t.Errorf("backlog grew by %d, want 1", after-before)
	}
}

func TestPrescriptionStatusesFor_ProjectsLatestActive(t *testing.T) {
	ctx := context.Background()
	covered := createTestMedication(t, ctx, "Enalapril", true)
	superseded := createTestMedication(t, ctx, "Nifedipine", true)
	uncovered := createTestMedication(t, ctx, "Aspirin", false)
	patient := uniquePatientID("patient")

	older := createTestPrescription(t, ctx, patient, nil,
		prescription.LineItemInput{CatalogItemID: superseded.ID, Quantity: 1})
	backdatePrescription(t, ctx, older.ID, 2*time.Hour)

	createTestPrescription(t, ctx, patient, nil,
		prescription.LineItemInput{CatalogItemID: covered.ID, Quantity: 1})

	ids := []string{covered.ID.String(), superseded.ID.String(), uncovered.ID.String(), "not-a-uuid"}
	statuses, err := deps.prescriptions.StatusesFor(ctx, patient, ids)
	if err != nil {
		t.Fatalf("StatusesFor: %v", err)
	}
	if got := statuses[covered.ID.String()]; got != prescription.ItemStatus(prescription.StatusPending) {
		t.Errorf("covered = %q, want pending", got)
	}
	if got := statuses[superseded.ID.String()]; got != prescription.ItemStatusNone {
		t.Errorf("superseded = %q, only the newest active prescription projects", got)
	}
	if got := statuses[uncovered.ID.String()]; got != prescription.ItemStatusNone {
		t.Errorf("uncovered = %q, want none", got)
	}
	if got := statuses["not-a-uuid"]; got != prescription.ItemStatusNone {
		t.Errorf("unparseable id = %q, want none", got)
	}
}

func TestPrescriptionStatusesFor_VerifiedProjection(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Levothyroxine", true)
	patient := uniquePatientID("patient")

	rx := createTestPrescription(t, ctx, patient, nil,
		prescription.LineItemInput{CatalogItemID: med.ID, Quantity: 1})
	if err := deps.prescriptions.SetStatusIfPending(ctx, rx.ID, prescription.StatusVerified, nil); err != nil {
		t.Fatalf("SetStatusIfPending: %v", err)
	}

	statuses, err := deps.prescriptions.StatusesFor(ctx, patient, []string{med.ID.String()})
	if err != nil {
		t.Fatalf("StatusesFor: %v", err)
	}
	if got := statuses[med.ID.String()]; got != prescription.ItemStatus(prescription.StatusVerified) {
		t.Errorf("status = %q, want verified", got)
	}
}

func TestPrescriptionStatusesFor_NoActivePrescription(t *testing.T) {
	ctx := context.Background()
	med := createTestMedication(t, ctx, "Anything", false)

	statuses, err := deps.prescriptions.StatusesFor(ctx, uniquePatientID("ghost"), []string{med.ID.String()})
	if err != nil {
		t.Fatalf("StatusesFor: %v", err)
	}
	if got := statuses[med.ID.String()]; got != prescription.ItemStatusNone {
		t.Errorf("status = %q, want none for a patient with no uploads", got)
	}
}

func TestPrescriptionGet_Missing(t *testing.T) {
	ctx := context.Background()

	_, err := deps.prescriptions.Get(ctx, uuid.New())
	if !errors.Is(err, prescription.ErrPrescriptionNotFound) {
		t.Fatalf("err = %v, want ErrPrescriptionNotFound", err)
	}
}
