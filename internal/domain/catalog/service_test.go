package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockCatalogRepo struct {
	items map[uuid.UUID]*CatalogItem
}

func newMockCatalogRepo() *mockCatalogRepo {
	return &mockCatalogRepo{items: make(map[uuid.UUID]*CatalogItem)}
}

func (m *mockCatalogRepo) Create(_ context.Context, ci *CatalogItem) error {
	ci.ID = uuid.New()
	ci.CreatedAt = time.Now()
	ci.UpdatedAt = time.Now()
	m.items[ci.ID] = ci
	return nil
}

func (m *mockCatalogRepo) GetByID(_ context.Context, id uuid.UUID) (*CatalogItem, error) {
	ci, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return ci, nil
}

func (m *mockCatalogRepo) Update(_ context.Context, ci *CatalogItem) error {
	if _, ok := m.items[ci.ID]; !ok {
		return ErrItemNotFound
	}
	m.items[ci.ID] = ci
	return nil
}

func (m *mockCatalogRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockCatalogRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*CatalogItem, int, error) {
	var result []*CatalogItem
	for _, ci := range m.items {
		if name, ok := params["name"]; ok && !strings.Contains(strings.ToLower(ci.Name), strings.ToLower(name)) {
			continue
		}
		if kind, ok := params["kind"]; ok && ci.Kind != kind {
			continue
		}
		result = append(result, ci)
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

// -- Tests --

func newTestService() *Service {
	return NewService(newMockCatalogRepo())
}

func TestCreateItem(t *testing.T) {
	svc := newTestService()
	ci := &CatalogItem{Name: "Amoxicillin 500mg", Kind: KindMedication, RequiresPrescription: true}
	err := svc.CreateItem(context.Background(), ci)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ci.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if !ci.Active {
		t.Error("expected new item to be active")
	}
}

func TestCreateItem_NameRequired(t *testing.T) {
	svc := newTestService()
	ci := &CatalogItem{Name: "   ", Kind: KindMedication}
	err := svc.CreateItem(context.Background(), ci)
	if err == nil {
		t.Error("expected error for missing name")
	}
}

func TestCreateItem_DefaultsToMedicationKind(t *testing.T) {
	svc := newTestService()
	ci := &CatalogItem{Name: "Paracetamol"}
	err := svc.CreateItem(context.Background(), ci)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ci.Kind != KindMedication {
		t.Errorf("expected default kind %q, got %q", KindMedication, ci.Kind)
	}
}

func TestCreateItem_InvalidKind(t *testing.T) {
	svc := newTestService()
	ci := &CatalogItem{Name: "Thing", Kind: "gadget"}
	err := svc.CreateItem(context.Background(), ci)
	if err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestGetItem_NotFound(t *testing.T) {
	svc := newTestService()
	_, err := svc.GetItem(context.Background(), uuid.New())
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	svc := newTestService()
	ci := &CatalogItem{Name: "Malaria Test", Kind: KindService}
	svc.CreateItem(context.Background(), ci)

	got, err := svc.Resolve(context.Background(), ci.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Stockable() {
		t.Error("service item should not be stockable")
	}
}

func TestResolve_InactiveItemNotFound(t *testing.T) {
	svc := newTestService()
	ci := &CatalogItem{Name: "Old Drug", Kind: KindMedication}
	svc.CreateItem(context.Background(), ci)

	ci.Active = false
	if err := svc.UpdateItem(context.Background(), ci); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Resolve(context.Background(), ci.ID)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound for inactive item, got %v", err)
	}
}

func TestSearchItems_KindFilter(t *testing.T) {
	svc := newTestService()
	svc.CreateItem(context.Background(), &CatalogItem{Name: "Ibuprofen", Kind: KindMedication})
	svc.CreateItem(context.Background(), &CatalogItem{Name: "Lipid Panel", Kind: KindService})

	items, total, err := svc.SearchItems(context.Background(), map[string]string{"kind": KindService}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected 1 service item, got total=%d len=%d", total, len(items))
	}
	if items[0].Name != "Lipid Panel" {
		t.Errorf("expected Lipid Panel, got %s", items[0].Name)
	}
}

func TestDeleteItem(t *testing.T) {
	svc := newTestService()
	ci := &CatalogItem{Name: "Ibuprofen", Kind: KindMedication}
	svc.CreateItem(context.Background(), ci)

	if err := svc.DeleteItem(context.Background(), ci.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetItem(context.Background(), ci.ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound after delete, got %v", err)
	}
}
