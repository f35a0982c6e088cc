package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/granary-erp/granary-erp/internal/stock"
)

// Line is one purchased item. Quantity moves stock; cost fields are money.
type Line struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Category    string          `json:"category"`
	Quantity    float64         `json:"quantity"`
	Unit        string          `json:"unit"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	// MinimumQty and ReorderQty seed threshold metadata when this line
	// creates a new stock record. Zero defers to catalog defaults.
	MinimumQty float64 `json:"minimum_qty"`
	ReorderQty float64 `json:"reorder_qty"`
	// RecordID is set after reconciliation to the stock record credited.
	RecordID int64 `json:"record_id,omitempty"`
}

// Total is the line amount.
func (l Line) Total() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromFloat(l.Quantity))
}

// Transaction is one supplier purchase landing in a single warehouse.
type Transaction struct {
	ID           int64     `json:"id"`
	Reference    string    `json:"reference"`
	WarehouseID  int64     `json:"warehouse_id"`
	SupplierName string    `json:"supplier_name"`
	Lines        []Line    `json:"lines"`
	ActorID      int64     `json:"actor_id"`
	ReceivedAt   time.Time `json:"received_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// TotalAmount sums the line totals.
func (t Transaction) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range t.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// Validate checks the transaction before any side effect.
func (t Transaction) Validate() error {
	if t.WarehouseID <= 0 {
		return errors.New("procurement: warehouse required")
	}
	if len(t.Lines) == 0 {
		return errors.New("procurement: at least one line required")
	}
	for i, l := range t.Lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("procurement: line %d quantity must be positive", i)
		}
		if l.UnitCost.IsNegative() {
			return fmt.Errorf("procurement: line %d unit cost must not be negative", i)
		}
		if l.ProductID <= 0 && l.ProductName == "" {
			return fmt.Errorf("procurement: line %d needs a product id or name", i)
		}
		if l.MinimumQty < 0 || l.ReorderQty < 0 {
			return fmt.Errorf("procurement: line %d thresholds must not be negative", i)
		}
	}
	return nil
}

// ref builds the resolver reference for a line.
func (l Line) ref() stock.ProductRef {
	return stock.ProductRef{CatalogID: l.ProductID, Name: l.ProductName, Category: l.Category}
}

// ErrTransactionNotFound indicates a missing purchase.
var ErrTransactionNotFound = errors.New("procurement: transaction not found")
