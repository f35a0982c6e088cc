package stock

import (
	"errors"
	"fmt"
	"time"
)

// Status reflects a record's stock level against its minimum quantity.
type Status string

const (
	// StatusActive means quantity is above the minimum threshold.
	StatusActive Status = "ACTIVE"
	// StatusLowStock means quantity is positive but at or below the minimum.
	StatusLowStock Status = "LOW_STOCK"
	// StatusOutOfStock means quantity is zero or negative.
	StatusOutOfStock Status = "OUT_OF_STOCK"
	// StatusDiscontinued marks a logically retired record. Movements may still
	// reference it; the status is never recomputed away.
	StatusDiscontinued Status = "DISCONTINUED"
)

// DeriveStatus computes the status for a quantity against a minimum.
func DeriveStatus(quantity, minimum float64) Status {
	switch {
	case quantity <= 0:
		return StatusOutOfStock
	case quantity <= minimum:
		return StatusLowStock
	default:
		return StatusActive
	}
}

// NextStatus recomputes status after a mutation, preserving retirement.
func NextStatus(current Status, quantity, minimum float64) Status {
	if current == StatusDiscontinued {
		return StatusDiscontinued
	}
	return DeriveStatus(quantity, minimum)
}

// Direction of a stock movement.
type Direction string

const (
	// DirectionIn adds quantity to a record.
	DirectionIn Direction = "in"
	// DirectionOut removes quantity from a record.
	DirectionOut Direction = "out"
)

// DefaultEpsilon is the quantity below which a remaining requirement counts
// as satisfied. Quantities are weights captured with two decimal places, so
// anything under a hundredth of a unit is measurement noise.
const DefaultEpsilon = 1e-2

// ProductRef identifies a logical product. Either CatalogID is set, or the
// descriptor fields carry enough to locate (or create) a record; upstream
// capture paths produce both shapes.
type ProductRef struct {
	CatalogID   int64
	Name        string
	Category    string
	SubCategory string
	// Commodity is an optional commodity-class keyword (e.g. "wheat") used
	// by heuristic matching when capture paths label the same physical
	// commodity differently.
	Commodity string
}

// HasCatalogID reports whether the reference carries a catalog link.
func (r ProductRef) HasCatalogID() bool { return r.CatalogID > 0 }

// IsZero reports whether the reference carries no identifying information.
func (r ProductRef) IsZero() bool {
	return r.CatalogID == 0 && r.Name == "" && r.Category == "" && r.SubCategory == "" && r.Commodity == ""
}

// Record is the materialized current-quantity state for one
// (product, warehouse) pair. Quantity is mutated exclusively by the Ledger.
type Record struct {
	ID          int64
	CatalogID   int64 // zero when only a free-text descriptor exists
	Name        string
	Category    string
	SubCategory string
	WarehouseID int64
	Quantity    float64
	MinimumQty  float64
	ReorderQty  float64
	Unit        string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Movement is an immutable signed quantity delta. Replaying all movements of
// a record in posted order yields its current quantity.
type Movement struct {
	ID            int64
	RecordID      int64
	Direction     Direction
	Quantity      float64 // always positive; Direction carries the sign
	Reason        string
	CorrelationID string
	WarehouseID   int64
	PostedAt      time.Time
	ActorID       int64
}

// Signed returns the quantity with its direction applied.
func (m Movement) Signed() float64 {
	if m.Direction == DirectionOut {
		return -m.Quantity
	}
	return m.Quantity
}

// MovementInput is the validated value object handed to the ledger. Handlers
// construct it at the boundary so the ledger never sees raw request data.
type MovementInput struct {
	RecordID      int64
	Direction     Direction
	Quantity      float64
	Unit          string // optional; must match the record's unit when set
	Reason        string
	CorrelationID string
	ActorID       int64
}

// Validate checks the input invariants.
func (in MovementInput) Validate() error {
	if in.RecordID <= 0 {
		return fmt.Errorf("%w: record id required", ErrInvalidMovement)
	}
	if in.Direction != DirectionIn && in.Direction != DirectionOut {
		return fmt.Errorf("%w: direction must be in or out", ErrInvalidMovement)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidMovement)
	}
	if in.Reason == "" {
		return fmt.Errorf("%w: reason required", ErrInvalidMovement)
	}
	return nil
}

var (
	// ErrRecordNotFound indicates a missing stock record.
	ErrRecordNotFound = errors.New("stock: record not found")
	// ErrNoMatch indicates resolution found nothing where a record was
	// strictly required.
	ErrNoMatch = errors.New("stock: no matching record")
	// ErrInsufficientStock indicates a feasibility check failed; no movement
	// was applied.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrInvalidMovement indicates a movement input violating its invariants.
	ErrInvalidMovement = errors.New("stock: invalid movement")
	// ErrUnitMismatch indicates a movement in a different unit than the record.
	ErrUnitMismatch = errors.New("stock: unit mismatch")
	// ErrDependencyUnavailable indicates a collaborator timed out before any
	// movement was committed.
	ErrDependencyUnavailable = errors.New("stock: dependency unavailable")
)
