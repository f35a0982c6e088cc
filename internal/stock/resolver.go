package stock

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// MatchStrategy tags which rule produced a resolution candidate, in priority
// order. Keeping the heuristics as named, pure strategies makes the fallback
// chain auditable and independently testable.
type MatchStrategy string

const (
	ByCatalogID          MatchStrategy = "catalog_id"
	ByCommodityHeuristic MatchStrategy = "commodity_heuristic"
	ByExactName          MatchStrategy = "exact_name"
	ByFuzzyName          MatchStrategy = "fuzzy_name"
	ByCategory           MatchStrategy = "category"
)

// Match pairs a resolved record with the strategy that found it.
type Match struct {
	Record   Record
	Strategy MatchStrategy
}

// ResolveOptions controls resolution behaviour.
type ResolveOptions struct {
	// PreferStocked orders records that hold stock ahead of empty ones.
	// Upstream capture often leaves a catalog-linked record empty while a
	// separately named record holds the physical stock.
	PreferStocked bool
	// Require turns an empty result into ErrNoMatch. Read paths that
	// tolerate zero stock leave it unset.
	Require bool
}

var fold = cases.Fold()

type matchFunc func(ref ProductRef, candidates []Record) []Record

// strategies in priority order. Each is a pure function over the reference
// and candidate set.
var strategies = []struct {
	name MatchStrategy
	fn   matchFunc
}{
	{ByCatalogID, matchCatalogID},
	{ByCommodityHeuristic, matchCommodity},
	{ByExactName, matchExactName},
	{ByFuzzyName, matchFuzzyName},
	{ByCategory, matchCategory},
}

// Resolve maps a product reference to the candidate records of one warehouse,
// in strategy priority order. A zero-quantity catalog hit never short-circuits
// the broader matches that may hold the real stock. Resolve never mutates
// candidates; callers scope the slice to a single warehouse.
func Resolve(ref ProductRef, candidates []Record, opts ResolveOptions) ([]Match, error) {
	seen := make(map[int64]struct{}, len(candidates))
	var matches []Match
	for _, s := range strategies {
		for _, rec := range s.fn(ref, candidates) {
			if _, ok := seen[rec.ID]; ok {
				continue
			}
			seen[rec.ID] = struct{}{}
			matches = append(matches, Match{Record: rec, Strategy: s.name})
		}
	}
	if opts.PreferStocked {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Record.Quantity > 0 && matches[j].Record.Quantity <= 0
		})
	}
	if opts.Require && len(matches) == 0 {
		return nil, ErrNoMatch
	}
	return matches, nil
}

// Records extracts the records of a match list, preserving order.
func Records(matches []Match) []Record {
	recs := make([]Record, len(matches))
	for i, m := range matches {
		recs[i] = m.Record
	}
	return recs
}

// NewRecordFromRef builds the zero-quantity record synthesized when a write
// target is required but nothing matched. Quantity stays zero; only the
// ledger may move it.
func NewRecordFromRef(ref ProductRef, warehouseID int64, unit string, minimum, reorder float64) Record {
	return Record{
		CatalogID:   ref.CatalogID,
		Name:        ref.Name,
		Category:    ref.Category,
		SubCategory: ref.SubCategory,
		WarehouseID: warehouseID,
		MinimumQty:  minimum,
		ReorderQty:  reorder,
		Unit:        unit,
		Status:      StatusOutOfStock,
	}
}

func matchCatalogID(ref ProductRef, candidates []Record) []Record {
	if !ref.HasCatalogID() {
		return nil
	}
	var out []Record
	for _, rec := range candidates {
		if rec.CatalogID == ref.CatalogID {
			out = append(out, rec)
		}
	}
	return out
}

// matchCommodity matches records whose name, category, or subcategory contains
// the commodity keyword. Raw-material capture paths label the same physical
// commodity inconsistently ("Wheat", "Raw Wheat MP", "wheat-local"), so this
// runs right after the catalog link for raw-material lookups.
func matchCommodity(ref ProductRef, candidates []Record) []Record {
	keyword := normalize(ref.Commodity)
	if keyword == "" {
		return nil
	}
	var out []Record
	for _, rec := range candidates {
		if strings.Contains(normalize(rec.Name), keyword) ||
			strings.Contains(normalize(rec.Category), keyword) ||
			strings.Contains(normalize(rec.SubCategory), keyword) {
			out = append(out, rec)
		}
	}
	return out
}

func matchExactName(ref ProductRef, candidates []Record) []Record {
	name := normalize(ref.Name)
	if name == "" {
		return nil
	}
	var out []Record
	for _, rec := range candidates {
		if normalize(rec.Name) == name {
			out = append(out, rec)
		}
	}
	return out
}

func matchFuzzyName(ref ProductRef, candidates []Record) []Record {
	name := normalize(ref.Name)
	if name == "" {
		return nil
	}
	var out []Record
	for _, rec := range candidates {
		folded := normalize(rec.Name)
		if folded == "" {
			continue
		}
		if strings.Contains(folded, name) || strings.Contains(name, folded) {
			out = append(out, rec)
		}
	}
	return out
}

func matchCategory(ref ProductRef, candidates []Record) []Record {
	category := normalize(ref.Category)
	if category == "" {
		return nil
	}
	var out []Record
	for _, rec := range candidates {
		if normalize(rec.Category) == category {
			out = append(out, rec)
		}
	}
	return out
}

func normalize(s string) string {
	return fold.String(strings.TrimSpace(s))
}
