package shopify

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Money handles the Admin API's habit of sending amounts as quoted strings
// ("129.95") while some fixtures and older payloads use bare numbers.
type Money float64

func (m *Money) UnmarshalJSON(data []byte) error {
	trimmed := bytes.Trim(data, `"`)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*m = 0
		return nil
	}

	value, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return fmt.Errorf("invalid money value %q", string(data))
	}
	*m = Money(value)
	return nil
}

func (m Money) Float64() float64 {
	return float64(m)
}

type LineItem struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Price    Money  `json:"price"`
}

// CustomerRef is the slim customer object embedded in an order payload.
type CustomerRef struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type Order struct {
	ID         int64        `json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	TotalPrice Money        `json:"total_price"`
	Currency   string       `json:"currency"`
	LineItems  []LineItem   `json:"line_items"`
	Customer   *CustomerRef `json:"customer,omitempty"`
}

type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	ProductType string    `json:"product_type"`
	Vendor      string    `json:"vendor"`
	CreatedAt   time.Time `json:"created_at"`
}

type Customer struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	OrdersCount int       `json:"orders_count"`
	TotalSpent  Money     `json:"total_spent"`
	CreatedAt   time.Time `json:"created_at"`
}

type Location struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type InventoryLevel struct {
	InventoryItemID int64     `json:"inventory_item_id"`
	LocationID      int64     `json:"location_id"`
	Available       int       `json:"available"`
	UpdatedAt       time.Time `json:"updated_at"`
}
