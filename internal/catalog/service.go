package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/granary-erp/granary-erp/internal/stock"
)

// Service validates catalog operations and owns the lookup contract the
// reconcilers depend on.
type Service struct {
	repo          Repository
	lookupTimeout time.Duration
}

// NewService constructs the catalog service. lookupTimeout bounds lookups
// made from reconciler flows; zero disables the extra deadline.
func NewService(repo Repository, lookupTimeout time.Duration) *Service {
	return &Service{repo: repo, lookupTimeout: lookupTimeout}
}

// ListProducts lists catalog products.
func (s *Service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, filters)
}

// GetProduct fetches one product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("%w: invalid product id", ErrNotFound)
	}
	return s.repo.GetProduct(ctx, id)
}

// FindProductByIDOrName is the lookup used by the reconcilers. It runs under
// the configured timeout; a timeout aborts the caller before any movement
// commits, reported as a dependency failure rather than a missing product.
func (s *Service) FindProductByIDOrName(ctx context.Context, id int64, name string) (Product, error) {
	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}
	p, err := s.repo.FindProductByIDOrName(ctx, id, name)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Product{}, fmt.Errorf("%w: catalog lookup timed out", stock.ErrDependencyUnavailable)
		}
		return Product{}, err
	}
	return p, nil
}

// CreateProduct persists a new product.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if err := validateProduct(p); err != nil {
		return Product{}, err
	}
	return s.repo.CreateProduct(ctx, p)
}

// UpdateProduct updates an existing product.
func (s *Service) UpdateProduct(ctx context.Context, id int64, p Product) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid product id", ErrNotFound)
	}
	if err := validateProduct(p); err != nil {
		return err
	}
	return s.repo.UpdateProduct(ctx, id, p)
}

// ListWarehouses lists warehouses.
func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

// GetWarehouse fetches one warehouse.
func (s *Service) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, fmt.Errorf("%w: invalid warehouse id", ErrNotFound)
	}
	return s.repo.GetWarehouse(ctx, id)
}

// CreateWarehouse persists a new warehouse.
func (s *Service) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	if w.Name == "" {
		return Warehouse{}, errors.New("catalog: warehouse name required")
	}
	return s.repo.CreateWarehouse(ctx, w)
}

func validateProduct(p Product) error {
	if p.Name == "" {
		return errors.New("catalog: product name required")
	}
	if p.MinimumQty < 0 || p.ReorderQty < 0 {
		return errors.New("catalog: thresholds must be non-negative")
	}
	return nil
}
