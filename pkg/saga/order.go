// Package saga implements the order saga orchestrator: a durable state machine
// that drives a fixed sequence of business steps, compensates completed steps
// in reverse order on failure, and supports caller-initiated retries.
package saga

import (
	"fmt"
	"time"
)

// Order is the business aggregate a saga executes on behalf of.
type Order struct {
	ID                      string      `json:"id"`
	CustomerID              string      `json:"customer_id"`
	TotalAmountInMinorUnits int64       `json:"total_amount_in_minor_units"`
	Status                  OrderStatus `json:"status"`
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`

	// isNew distinguishes INSERT from UPDATE since ids are pre-generated.
	isNew bool
}

// NewOrder creates an unpersisted Order in PENDING state.
func NewOrder(id, customerID string, totalAmountInMinorUnits int64, now time.Time) *Order {
	return &Order{
		ID:                      id,
		CustomerID:              customerID,
		TotalAmountInMinorUnits: totalAmountInMinorUnits,
		Status:                  OrderPending,
		CreatedAt:               now,
		UpdatedAt:               now,
		isNew:                   true,
	}
}

// IsNew reports whether the order has not yet been persisted.
func (o *Order) IsNew() bool {
	return o.isNew
}

// MarkPersisted flips the order into persisted state after a successful insert.
func (o *Order) MarkPersisted() {
	o.isNew = false
}

// Validate checks the order invariants.
func (o *Order) Validate(items []OrderItem) error {
	if o.ID == "" {
		return fmt.Errorf("order id cannot be empty")
	}
	if o.CustomerID == "" {
		return fmt.Errorf("order customer id cannot be empty")
	}
	if o.TotalAmountInMinorUnits <= 0 {
		return fmt.Errorf("order total must be positive, got %d", o.TotalAmountInMinorUnits)
	}
	if len(items) == 0 {
		return fmt.Errorf("order must contain at least one item")
	}
	var sum int64
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		sum += int64(items[i].Quantity) * items[i].UnitPriceInMinorUnits
	}
	if sum != o.TotalAmountInMinorUnits {
		return fmt.Errorf("order total %d does not match item sum %d", o.TotalAmountInMinorUnits, sum)
	}
	return nil
}

// OrderItem is one line of an order. Immutable after creation.
type OrderItem struct {
	ID                    string `json:"id"`
	OrderID               string `json:"order_id"`
	ProductID             string `json:"product_id"`
	ProductName           string `json:"product_name"`
	Quantity              int    `json:"quantity"`
	UnitPriceInMinorUnits int64  `json:"unit_price_in_minor_units"`
}

// Validate checks the item invariants.
func (i *OrderItem) Validate() error {
	if i.ProductID == "" {
		return fmt.Errorf("item product id cannot be empty")
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("item quantity must be positive, got %d", i.Quantity)
	}
	if i.UnitPriceInMinorUnits < 0 {
		return fmt.Errorf("item unit price cannot be negative, got %d", i.UnitPriceInMinorUnits)
	}
	return nil
}
