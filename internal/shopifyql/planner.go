package shopifyql

import "github.com/shopsight/backend/internal/intent"

// Source names a remote data collection the generated query may read.
type Source string

const (
	SourceOrders          Source = "orders"
	SourceProducts        Source = "products"
	SourceCustomers       Source = "customers"
	SourceInventoryLevels Source = "inventory_levels"
)

func (s Source) String() string {
	return string(s)
}

// planTable is static on purpose: planning must be perfectly reproducible,
// so it is a lookup, never an inference call.
var planTable = map[intent.Type][]Source{
	intent.TypeInventoryProjection: {SourceOrders, SourceProducts, SourceInventoryLevels},
	intent.TypeSalesTrends:         {SourceOrders, SourceProducts},
	intent.TypeCustomerBehavior:    {SourceCustomers, SourceOrders},
	intent.TypeProductPerformance:  {SourceProducts, SourceOrders},
	intent.TypeStockoutPrediction:  {SourceProducts, SourceInventoryLevels, SourceOrders},
}

// Plan returns the data sources required for a category. Categories without
// a mapping (including unknown) fall back to orders alone. The returned
// slice is a copy; callers may mutate it freely.
func Plan(category intent.Type) []Source {
	if sources, ok := planTable[category]; ok {
		return append([]Source(nil), sources...)
	}
	return []Source{SourceOrders}
}

// DataPlan captures what the generated query will need beyond its sources.
type DataPlan struct {
	Sources           []Source
	NeedsTimeFilter   bool
	NeedsAggregation  bool
	NeedsEntityFilter bool
}

func PlanFor(it intent.Intent) DataPlan {
	return DataPlan{
		Sources:           Plan(it.Category),
		NeedsTimeFilter:   it.TimePeriod != nil && it.TimePeriod.Days != nil,
		NeedsAggregation:  len(it.Metrics) > 0,
		NeedsEntityFilter: len(it.Entities) > 0,
	}
}
