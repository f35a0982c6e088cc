package catalog

import (
	"errors"
	"time"
)

// Product is a catalog entry. Stock records reference it by ID when the
// capture path knew the catalog; free-text records carry only the descriptor.
type Product struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	SubCategory string `json:"subcategory"`
	Unit        string `json:"unit"`
	// CommodityClass is the heuristic keyword grouping capture-path variants
	// of the same physical commodity (e.g. "wheat").
	CommodityClass string    `json:"commodity_class"`
	MinimumQty     float64   `json:"minimum_qty"`
	ReorderQty     float64   `json:"reorder_qty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Warehouse is a physical storage location.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters narrows product listings.
type ListFilters struct {
	Search   string
	Category string
	IsActive *bool
	Page     int
	PerPage  int
}

// ErrNotFound indicates a missing catalog entity.
var ErrNotFound = errors.New("catalog: not found")
