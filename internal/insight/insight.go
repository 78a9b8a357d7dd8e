package insight

import "github.com/shopsight/backend/internal/shopify"

// Confidence grades answer reliability from data volume alone. The
// reasoning service never gets a vote: a confident narrative over three
// records still reads "low".
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

const (
	mediumFloor = 10
	highFloor   = 30
)

func ConfidenceForCount(n int) Confidence {
	switch {
	case n >= highFloor:
		return ConfidenceHigh
	case n >= mediumFloor:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Dataset holds everything retrieved for one question, merged across all
// collections the query referenced.
type Dataset struct {
	Orders    []shopify.Order
	Products  []shopify.Product
	Customers []shopify.Customer
	Inventory []shopify.InventoryLevel
}

func (d Dataset) Size() int {
	return len(d.Orders) + len(d.Products) + len(d.Customers) + len(d.Inventory)
}

// Result is the synthesis output for one question.
type Result struct {
	Insights   string     `json:"insights"`
	Confidence Confidence `json:"confidence"`
	DataPoints int        `json:"data_points"`
}
