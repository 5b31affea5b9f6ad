// Package steps implements the three canonical order saga steps over
// injected collaborator clients. Clients are remote services; every call
// here may be repeated across crash and retry boundaries, so collaborators
// must be idempotent for the same idempotency key (the order id).
package steps

import (
	"context"
	"errors"
)

// Collaborator failure sentinels. Steps translate these into the
// caller-visible error codes.
var (
	ErrOutOfStock          = errors.New("requested items are out of stock")
	ErrPaymentDeclined     = errors.New("payment was declined")
	ErrShippingUnavailable = errors.New("no shipping option available")
)

// Line is one order line passed to collaborators. Kept JSON-friendly so it
// survives context persistence round trips.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Address is a shipping destination.
type Address struct {
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// InventoryClient reserves and releases stock.
type InventoryClient interface {
	Reserve(ctx context.Context, orderID string, lines []Line) (reservationID string, err error)
	Release(ctx context.Context, reservationID string) error
	ReservationValid(ctx context.Context, reservationID string) (bool, error)
}

// PaymentClient authorizes and voids payments.
type PaymentClient interface {
	Authorize(ctx context.Context, orderID, customerID, paymentMethodID string, amountInMinorUnits int64) (authorizationID string, err error)
	Void(ctx context.Context, authorizationID string) error
	AuthorizationValid(ctx context.Context, authorizationID string) (bool, error)
}

// Shipment is the result of booking a shipment.
type Shipment struct {
	ShipmentID        string
	TrackingNumber    string
	EstimatedDelivery string
}

// ShippingClient books and cancels shipments.
type ShippingClient interface {
	Arrange(ctx context.Context, orderID string, lines []Line, destination Address) (Shipment, error)
	Cancel(ctx context.Context, shipmentID string) error
}
