package sales

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/granary-erp/granary-erp/internal/stock"
)

// Status of a sale transaction.
type Status string

const (
	StatusCompleted         Status = "COMPLETED"
	StatusRejected          Status = "REJECTED"
	StatusPartiallyReturned Status = "PARTIALLY_RETURNED"
	StatusReturned          Status = "RETURNED"
)

// Line is one sold item. Quantity moves stock; the price fields are money
// and stay exact.
type Line struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    float64         `json:"quantity"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	// RecordID is set after reconciliation to the stock record the line
	// drew from.
	RecordID int64 `json:"record_id,omitempty"`
	// ReturnedQty accumulates across partial returns, never past Quantity.
	ReturnedQty float64 `json:"returned_qty,omitempty"`
}

// RemainingQty is the sold quantity not yet returned.
func (l Line) RemainingQty() float64 {
	return l.Quantity - l.ReturnedQty
}

// ReturnLine requests a return of part of one sale line.
type ReturnLine struct {
	LineID   int64   `json:"line_id"`
	Quantity float64 `json:"quantity"`
}

// Total is the line amount.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromFloat(l.Quantity))
}

// Transaction is one customer sale drawing stock from a single warehouse.
type Transaction struct {
	ID           int64     `json:"id"`
	Reference    string    `json:"reference"`
	WarehouseID  int64     `json:"warehouse_id"`
	CustomerName string    `json:"customer_name"`
	Lines        []Line    `json:"lines"`
	Status       Status    `json:"status"`
	RejectReason string    `json:"reject_reason,omitempty"`
	ActorID      int64     `json:"actor_id"`
	SoldAt       time.Time `json:"sold_at"`
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
		return errors.New("sales: warehouse required")
	}
	if len(t.Lines) == 0 {
		return errors.New("sales: at least one line required")
	}
	for i, l := range t.Lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("sales: line %d quantity must be positive", i)
		}
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("sales: line %d unit price must not be negative", i)
		}
		if l.ProductID <= 0 && l.ProductName == "" {
			return fmt.Errorf("sales: line %d needs a product id or name", i)
		}
	}
	return nil
}

// ref builds the resolver reference for a line.
func (l Line) ref() stock.ProductRef {
	return stock.ProductRef{CatalogID: l.ProductID, Name: l.ProductName}
}

var (
	ErrTransactionNotFound = errors.New("sales: transaction not found")
	ErrNotReturnable       = errors.New("sales: transaction has nothing left to return")
	ErrReturnExceedsSold   = errors.New("sales: return exceeds sold quantity")
)
