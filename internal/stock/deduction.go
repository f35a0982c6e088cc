package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// ShortfallReasonSuffix tags the forced-remainder movement posted when the
// candidates could not cover the requirement.
const ShortfallReasonSuffix = "shortfall-remainder"

// Allocation records how much one deduction took from one record.
type Allocation struct {
	RecordID int64
	Quantity float64
	// Forced marks the remainder deduction that drove the record negative.
	Forced bool
}

// DeductionResult summarises one multi-source deduction.
type DeductionResult struct {
	Required  float64
	Fulfilled float64
	// Shortfall is the remaining requirement before the forced deduction.
	// Zero when the candidates covered the requirement.
	Shortfall   float64
	Allocations []Allocation
}

// MovementApplier posts movements. The ledger and its transaction scope both
// satisfy it; reconcilers pass the transaction scope so one deduction commits
// as a unit.
type MovementApplier interface {
	Apply(ctx context.Context, in MovementInput) (Record, Movement, error)
}

// DeductionEngine satisfies a single "consume N units" request spread across
// fragmented records of the same commodity.
type DeductionEngine struct {
	epsilon float64
	logger  *slog.Logger
}

// NewDeductionEngine constructs the engine. A non-positive epsilon falls back
// to DefaultEpsilon.
func NewDeductionEngine(epsilon float64, logger *slog.Logger) *DeductionEngine {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeductionEngine{epsilon: epsilon, logger: logger}
}

// Deduct drains candidates largest-pile-first until the requirement is met.
// Zero-stock candidates are passed over. If the candidates run out, the
// remainder is forced onto the single largest candidate even though that
// drives it negative: the caller's feasibility check already passed, and the
// physical transaction must not be blocked by a last-moment accounting
// discrepancy. The returned Shortfall lets the caller log and alert.
func (e *DeductionEngine) Deduct(ctx context.Context, applier MovementApplier, candidates []Record, required float64, reasonPrefix, correlationID string, actorID int64) (DeductionResult, error) {
	result := DeductionResult{Required: required}
	if required <= 0 {
		return result, fmt.Errorf("%w: required quantity must be positive", ErrInvalidMovement)
	}
	if len(candidates) == 0 {
		return result, ErrNoMatch
	}

	// Largest pile first: touches the fewest fragmented records and leaves
	// the fewest near-empty remainders behind.
	ordered := make([]Record, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Quantity > ordered[j].Quantity
	})

	remaining := required
	for _, rec := range ordered {
		if remaining <= e.epsilon {
			break
		}
		if rec.Quantity <= 0 {
			continue
		}
		take := rec.Quantity
		if remaining < take {
			take = remaining
		}
		_, _, err := applier.Apply(ctx, MovementInput{
			RecordID:      rec.ID,
			Direction:     DirectionOut,
			Quantity:      take,
			Reason:        reasonPrefix,
			CorrelationID: correlationID,
			ActorID:       actorID,
		})
		if err != nil {
			return DeductionResult{}, err
		}
		result.Allocations = append(result.Allocations, Allocation{RecordID: rec.ID, Quantity: take})
		result.Fulfilled += take
		remaining -= take
	}

	if remaining > e.epsilon {
		// The availability check and the deduction disagreed, e.g. a race
		// between overlapping requests. Force the remainder onto the largest
		// candidate so the accounting stays consistent with the physical
		// transaction that already happened.
		target := ordered[0]
		_, _, err := applier.Apply(ctx, MovementInput{
			RecordID:      target.ID,
			Direction:     DirectionOut,
			Quantity:      remaining,
			Reason:        fmt.Sprintf("%s/%s", reasonPrefix, ShortfallReasonSuffix),
			CorrelationID: correlationID,
			ActorID:       actorID,
		})
		if err != nil {
			return DeductionResult{}, err
		}
		result.Allocations = append(result.Allocations, Allocation{RecordID: target.ID, Quantity: remaining, Forced: true})
		result.Fulfilled += remaining
		result.Shortfall = remaining
		e.logger.Warn("stock deduction shortfall",
			slog.Float64("required", required),
			slog.Float64("shortfall", remaining),
			slog.Int64("record_id", target.ID),
			slog.String("correlation_id", correlationID),
		)
	}

	return result, nil
}
