package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/granary-erp/granary-erp/internal/stock"
)

type fakeRepo struct {
	products   map[int64]Product
	warehouses map[int64]Warehouse
	nextID     int64
	lookupLag  time.Duration
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{products: map[int64]Product{}, warehouses: map[int64]Warehouse{}, nextID: 1}
}

func (f *fakeRepo) ListProducts(_ context.Context, _ ListFilters) ([]Product, int, error) {
	out := make([]Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (f *fakeRepo) GetProduct(_ context.Context, id int64) (Product, error) {
	p, ok := f.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) FindProductByIDOrName(ctx context.Context, id int64, name string) (Product, error) {
	if f.lookupLag > 0 {
		select {
		case <-time.After(f.lookupLag):
		case <-ctx.Done():
			return Product{}, ctx.Err()
		}
	}
	if p, ok := f.products[id]; ok {
		return p, nil
	}
	for _, p := range f.products {
		if p.Name == name {
			return p, nil
		}
	}
	return Product{}, ErrNotFound
}

func (f *fakeRepo) CreateProduct(_ context.Context, p Product) (Product, error) {
	p.ID = f.nextID
	f.nextID++
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeRepo) UpdateProduct(_ context.Context, id int64, p Product) error {
	if _, ok := f.products[id]; !ok {
		return ErrNotFound
	}
	p.ID = id
	f.products[id] = p
	return nil
}

func (f *fakeRepo) ListWarehouses(_ context.Context) ([]Warehouse, error) {
	out := make([]Warehouse, 0, len(f.warehouses))
	for _, w := range f.warehouses {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeRepo) GetWarehouse(_ context.Context, id int64) (Warehouse, error) {
	w, ok := f.warehouses[id]
	if !ok {
		return Warehouse{}, ErrNotFound
	}
	return w, nil
}

func (f *fakeRepo) CreateWarehouse(_ context.Context, w Warehouse) (Warehouse, error) {
	w.ID = f.nextID
	f.nextID++
	f.warehouses[w.ID] = w
	return w, nil
}

func TestFindProductByIDOrName(t *testing.T) {
	repo := newFakeRepo()
	seeded, err := repo.CreateProduct(context.Background(), Product{Code: "FLR-01", Name: "Premium Flour", Unit: "kg"})
	require.NoError(t, err)

	svc := NewService(repo, 0)

	byID, err := svc.FindProductByIDOrName(context.Background(), seeded.ID, "")
	require.NoError(t, err)
	require.Equal(t, seeded.ID, byID.ID)

	byName, err := svc.FindProductByIDOrName(context.Background(), 0, "Premium Flour")
	require.NoError(t, err)
	require.Equal(t, seeded.ID, byName.ID)

	_, err = svc.FindProductByIDOrName(context.Background(), 0, "No Such Product")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindProductTimeoutMapsToDependencyUnavailable(t *testing.T) {
	repo := newFakeRepo()
	repo.lookupLag = 50 * time.Millisecond
	svc := NewService(repo, 5*time.Millisecond)

	_, err := svc.FindProductByIDOrName(context.Background(), 1, "Premium Flour")
	require.ErrorIs(t, err, stock.ErrDependencyUnavailable)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestCreateProductValidation(t *testing.T) {
	svc := NewService(newFakeRepo(), 0)

	_, err := svc.CreateProduct(context.Background(), Product{Name: ""})
	require.Error(t, err)

	_, err = svc.CreateProduct(context.Background(), Product{Name: "Bran", MinimumQty: -1})
	require.Error(t, err)

	created, err := svc.CreateProduct(context.Background(), Product{Name: "Bran", Unit: "kg", MinimumQty: 10, ReorderQty: 25})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
}
