package stock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func warehouseCandidates() []Record {
	return []Record{
		{ID: 1, CatalogID: 100, Name: "Wheat MP", Category: "Raw Material", SubCategory: "Wheat", WarehouseID: 1, Quantity: 0},
		{ID: 2, Name: "Raw Wheat Local", Category: "Raw Material", SubCategory: "Wheat", WarehouseID: 1, Quantity: 50},
		{ID: 3, Name: "Fine Flour 50kg", Category: "Finished Goods", SubCategory: "Flour", WarehouseID: 1, Quantity: 120},
		{ID: 4, Name: "Packaging Bag", Category: "Packaging", WarehouseID: 1, Quantity: 900},
	}
}

func TestResolveCatalogIDFirst(t *testing.T) {
	matches, err := Resolve(ProductRef{CatalogID: 100}, warehouseCandidates(), ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, int64(1), matches[0].Record.ID)
	require.Equal(t, ByCatalogID, matches[0].Strategy)
}

func TestResolveEmptyCatalogHitDoesNotShortCircuit(t *testing.T) {
	// The catalog-linked record is empty while a separately named record
	// holds the commodity; both must surface, stocked one first.
	ref := ProductRef{CatalogID: 100, Commodity: "wheat"}
	matches, err := Resolve(ref, warehouseCandidates(), ResolveOptions{PreferStocked: true})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, int64(2), matches[0].Record.ID)
	require.Equal(t, ByCommodityHeuristic, matches[0].Strategy)
	require.Equal(t, int64(1), matches[1].Record.ID)
}

func TestResolveNameFallbacks(t *testing.T) {
	exact, err := Resolve(ProductRef{Name: "fine flour 50KG"}, warehouseCandidates(), ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, exact, 1)
	require.Equal(t, ByExactName, exact[0].Strategy)

	fuzzy, err := Resolve(ProductRef{Name: "Flour"}, warehouseCandidates(), ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, fuzzy, 1)
	require.Equal(t, int64(3), fuzzy[0].Record.ID)
	require.Equal(t, ByFuzzyName, fuzzy[0].Strategy)
}

func TestResolveCategoryOnly(t *testing.T) {
	matches, err := Resolve(ProductRef{Category: "packaging"}, warehouseCandidates(), ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, ByCategory, matches[0].Strategy)
}

func TestResolveRequireSignalsNoMatch(t *testing.T) {
	_, err := Resolve(ProductRef{Name: "semolina"}, warehouseCandidates(), ResolveOptions{Require: true})
	require.ErrorIs(t, err, ErrNoMatch)

	// Read paths tolerate an empty result.
	matches, err := Resolve(ProductRef{Name: "semolina"}, warehouseCandidates(), ResolveOptions{})
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestResolveDeduplicatesAcrossStrategies(t *testing.T) {
	// Record 2 matches both the commodity heuristic and the fuzzy name rule;
	// it must appear once, tagged with the higher-priority strategy.
	ref := ProductRef{Name: "Raw Wheat", Commodity: "wheat"}
	matches, err := Resolve(ref, warehouseCandidates(), ResolveOptions{})
	require.NoError(t, err)
	ids := map[int64]int{}
	for _, m := range matches {
		ids[m.Record.ID]++
	}
	require.Equal(t, 1, ids[2])
	require.Equal(t, ByCommodityHeuristic, matches[0].Strategy)
}

func TestNewRecordFromRef(t *testing.T) {
	rec := NewRecordFromRef(ProductRef{CatalogID: 7, Name: "Bran", Category: "By-Product"}, 3, "kg", 20, 40)
	require.Equal(t, int64(7), rec.CatalogID)
	require.Equal(t, int64(3), rec.WarehouseID)
	require.Zero(t, rec.Quantity)
	require.Equal(t, StatusOutOfStock, rec.Status)
	require.Equal(t, 20.0, rec.MinimumQty)
}
