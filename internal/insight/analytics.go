package insight

import (
	"sort"

	"github.com/shopsight/backend/internal/shopify"
)

// SalesVelocity returns units sold per day over the given window. Zero
// orders or a non-positive window yield 0.
func SalesVelocity(orders []shopify.Order, days int) float64 {
	if len(orders) == 0 || days <= 0 {
		return 0
	}

	total := 0
	for _, order := range orders {
		for _, item := range order.LineItems {
			total += item.Quantity
		}
	}

	return float64(total) / float64(days)
}

// ProductRevenue aggregates line items sharing a product title.
type ProductRevenue struct {
	Title        string  `json:"title"`
	QuantitySold int     `json:"quantity_sold"`
	Revenue      float64 `json:"revenue"`
}

// TopProductsByRevenue ranks products by revenue (quantity times unit
// price) and returns at most n entries. Ties keep the order in which the
// products first appeared.
func TopProductsByRevenue(orders []shopify.Order, n int) []ProductRevenue {
	if n <= 0 {
		return []ProductRevenue{}
	}

	byTitle := make(map[string]int)
	ranked := make([]ProductRevenue, 0)

	for _, order := range orders {
		for _, item := range order.LineItems {
			title := item.Title
			if title == "" {
				title = "Unknown"
			}

			idx, ok := byTitle[title]
			if !ok {
				idx = len(ranked)
				byTitle[title] = idx
				ranked = append(ranked, ProductRevenue{Title: title})
			}

			ranked[idx].QuantitySold += item.Quantity
			ranked[idx].Revenue += float64(item.Quantity) * item.Price.Float64()
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Revenue > ranked[j].Revenue
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// CustomerSegments buckets customers by lifetime order count.
type CustomerSegments struct {
	OneTime  int `json:"one_time"`
	Repeat   int `json:"repeat"`
	Frequent int `json:"frequent"`
	Total    int `json:"total"`
}

// SegmentCustomers counts one-time (exactly 1 order), repeat (2 to 5) and
// frequent (more than 5) buyers. Customers with no orders only count
// toward the total.
func SegmentCustomers(customers []shopify.Customer) CustomerSegments {
	segments := CustomerSegments{Total: len(customers)}

	for _, customer := range customers {
		switch {
		case customer.OrdersCount == 1:
			segments.OneTime++
		case customer.OrdersCount > 1 && customer.OrdersCount <= 5:
			segments.Repeat++
		case customer.OrdersCount > 5:
			segments.Frequent++
		}
	}

	return segments
}
