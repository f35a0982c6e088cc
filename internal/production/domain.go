package production

import (
	"errors"
	"fmt"
	"time"

	"github.com/granary-erp/granary-erp/internal/stock"
)

// Status tracks a batch through the milling run.
type Status string

const (
	StatusRequested         Status = "REQUESTED"
	StatusMaterialsChecked  Status = "MATERIALS_CHECKED"
	StatusMaterialsDeducted Status = "MATERIALS_DEDUCTED"
	StatusOutputsCredited   Status = "OUTPUTS_CREDITED"
	StatusCompleted         Status = "COMPLETED"
	// StatusRejected is terminal and only entered from the materials gate.
	StatusRejected Status = "REJECTED"
)

var transitions = map[Status][]Status{
	StatusRequested:         {StatusMaterialsChecked, StatusRejected},
	StatusMaterialsChecked:  {StatusMaterialsDeducted},
	StatusMaterialsDeducted: {StatusOutputsCredited},
	StatusOutputsCredited:   {StatusCompleted},
}

// CanTransition reports whether moving from to next is a legal step.
func CanTransition(from, next Status) bool {
	for _, s := range transitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

// OutputLine is one finished product of a batch, counted in packed units.
type OutputLine struct {
	ID          int64   `json:"id"`
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	UnitWeight  float64 `json:"unit_weight"`
	UnitCount   int     `json:"unit_count"`
	WarehouseID int64   `json:"warehouse_id"`
}

// TotalWeight is the produced mass of the line.
func (l OutputLine) TotalWeight() float64 {
	return l.UnitWeight * float64(l.UnitCount)
}

// Batch is one production run: raw material consumed from a source
// warehouse, finished outputs credited to destination warehouses.
type Batch struct {
	ID                int64            `json:"id"`
	Reference         string           `json:"reference"`
	SourceWarehouseID int64            `json:"source_warehouse_id"`
	Material          stock.ProductRef `json:"material"`
	RequestedQty      float64          `json:"requested_qty"`
	Unit              string           `json:"unit"`
	Outputs           []OutputLine     `json:"outputs"`
	// Wastage is the requested mass not accounted for by the outputs,
	// floored at zero.
	Wastage      float64   `json:"wastage"`
	Status       Status    `json:"status"`
	RejectReason string    `json:"reject_reason,omitempty"`
	ActorID      int64     `json:"actor_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProducedWeight sums the output line weights.
func (b Batch) ProducedWeight() float64 {
	var total float64
	for _, l := range b.Outputs {
		total += l.TotalWeight()
	}
	return total
}

// ComputeWastage sets Wastage from the requested and produced masses.
func (b *Batch) ComputeWastage() {
	w := b.RequestedQty - b.ProducedWeight()
	if w < 0 {
		w = 0
	}
	b.Wastage = w
}

// Advance moves the batch to next, enforcing the state machine.
func (b *Batch) Advance(next Status) error {
	if !CanTransition(b.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, next)
	}
	b.Status = next
	return nil
}

var (
	ErrInvalidTransition  = errors.New("production: invalid status transition")
	ErrBatchNotFound      = errors.New("production: batch not found")
	ErrOutputsExceedInput = errors.New("production: outputs exceed requested raw material")
)

// Validate checks a batch request before any side effect.
func (b Batch) Validate() error {
	if b.SourceWarehouseID <= 0 {
		return errors.New("production: source warehouse required")
	}
	if b.Material.IsZero() {
		return errors.New("production: raw material reference required")
	}
	if b.RequestedQty <= 0 {
		return errors.New("production: requested quantity must be positive")
	}
	if len(b.Outputs) == 0 {
		return errors.New("production: at least one output line required")
	}
	for i, l := range b.Outputs {
		if l.UnitWeight <= 0 || l.UnitCount <= 0 {
			return fmt.Errorf("production: output line %d needs positive unit weight and count", i)
		}
		if l.WarehouseID <= 0 {
			return fmt.Errorf("production: output line %d needs a destination warehouse", i)
		}
		if l.ProductID <= 0 && l.ProductName == "" {
			return fmt.Errorf("production: output line %d needs a product id or name", i)
		}
	}
	// A mill cannot create mass. Outputs heavier than the raw material
	// consumed would credit stock that was never there.
	if produced := b.ProducedWeight(); produced > b.RequestedQty+stock.DefaultEpsilon {
		return fmt.Errorf("%w: outputs weigh %.2f, raw material requested %.2f",
			ErrOutputsExceedInput, produced, b.RequestedQty)
	}
	return nil
}
