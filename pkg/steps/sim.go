package steps

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/orderflow/orderflow/pkg/clock"
)

// Simulated collaborators for local development and tests. Each one keeps an
// idempotency map keyed by order id, so re-invoking a step for the same order
// returns the original result instead of acting twice.
//
// Failures are triggered deterministically by input values:
//   - a product id starting with "OOS" is out of stock
//   - a payment method id starting with "DECLINE" is declined
//   - a postal code "00000" has no shipping coverage

// SimInventory is an in-memory inventory service.
type SimInventory struct {
	mu           sync.Mutex
	ids          clock.IDGenerator
	reservations map[string]string
	released     map[string]bool
}

// NewSimInventory creates a simulated inventory service.
func NewSimInventory(ids clock.IDGenerator) *SimInventory {
	if ids == nil {
		ids = clock.UUIDGenerator{}
	}
	return &SimInventory{
		ids:          ids,
		reservations: make(map[string]string),
		released:     make(map[string]bool),
	}
}

// Reserve holds stock for the order lines.
func (s *SimInventory) Reserve(_ context.Context, orderID string, lines []Line) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.reservations[orderID]; ok && !s.released[id] {
		return id, nil
	}
	for _, line := range lines {
		if strings.HasPrefix(line.ProductID, "OOS") {
			return "", fmt.Errorf("product %s: %w", line.ProductID, ErrOutOfStock)
		}
	}
	id := "res-" + s.ids.NewID()
	s.reservations[orderID] = id
	return id, nil
}

// Release frees a reservation. Releasing twice is a no-op.
func (s *SimInventory) Release(_ context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[reservationID] = true
	return nil
}

// ReservationValid reports whether a reservation is still held.
func (s *SimInventory) ReservationValid(_ context.Context, reservationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released[reservationID] {
		return false, nil
	}
	for _, id := range s.reservations {
		if id == reservationID {
			return true, nil
		}
	}
	return false, nil
}

// SimPayment is an in-memory payment service.
type SimPayment struct {
	mu             sync.Mutex
	ids            clock.IDGenerator
	authorizations map[string]string
	voided         map[string]bool
}

// NewSimPayment creates a simulated payment service.
func NewSimPayment(ids clock.IDGenerator) *SimPayment {
	if ids == nil {
		ids = clock.UUIDGenerator{}
	}
	return &SimPayment{
		ids:            ids,
		authorizations: make(map[string]string),
		voided:         make(map[string]bool),
	}
}

// Authorize places a hold on the customer's payment method.
func (s *SimPayment) Authorize(_ context.Context, orderID, customerID, paymentMethodID string, amountInMinorUnits int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.authorizations[orderID]; ok && !s.voided[id] {
		return id, nil
	}
	if strings.HasPrefix(paymentMethodID, "DECLINE") {
		return "", fmt.Errorf("payment method %s for customer %s: %w", paymentMethodID, customerID, ErrPaymentDeclined)
	}
	if amountInMinorUnits <= 0 {
		return "", fmt.Errorf("amount %d: %w", amountInMinorUnits, ErrPaymentDeclined)
	}
	id := "auth-" + s.ids.NewID()
	s.authorizations[orderID] = id
	return id, nil
}

// Void cancels an authorization. Voiding twice is a no-op.
func (s *SimPayment) Void(_ context.Context, authorizationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voided[authorizationID] = true
	return nil
}

// AuthorizationValid reports whether an authorization is still open.
func (s *SimPayment) AuthorizationValid(_ context.Context, authorizationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.voided[authorizationID] {
		return false, nil
	}
	for _, id := range s.authorizations {
		if id == authorizationID {
			return true, nil
		}
	}
	return false, nil
}

// SimShipping is an in-memory shipping service.
type SimShipping struct {
	mu        sync.Mutex
	clk       clock.Clock
	ids       clock.IDGenerator
	shipments map[string]Shipment
	cancelled map[string]bool
}

// NewSimShipping creates a simulated shipping service.
func NewSimShipping(clk clock.Clock, ids clock.IDGenerator) *SimShipping {
	if clk == nil {
		clk = clock.System{}
	}
	if ids == nil {
		ids = clock.UUIDGenerator{}
	}
	return &SimShipping{
		clk:       clk,
		ids:       ids,
		shipments: make(map[string]Shipment),
		cancelled: make(map[string]bool),
	}
}

// Arrange books a shipment to the destination.
func (s *SimShipping) Arrange(_ context.Context, orderID string, lines []Line, destination Address) (Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sh, ok := s.shipments[orderID]; ok && !s.cancelled[sh.ShipmentID] {
		return sh, nil
	}
	if destination.PostalCode == "00000" {
		return Shipment{}, fmt.Errorf("no carrier covers %s %s: %w", destination.PostalCode, destination.Country, ErrShippingUnavailable)
	}
	if len(lines) == 0 {
		return Shipment{}, fmt.Errorf("nothing to ship: %w", ErrShippingUnavailable)
	}
	id := s.ids.NewID()
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(compact) > 12 {
		compact = compact[:12]
	}
	sh := Shipment{
		ShipmentID:        "ship-" + id,
		TrackingNumber:    "TRK-" + compact,
		EstimatedDelivery: s.clk.Now().Add(5 * 24 * time.Hour).Format("2006-01-02"),
	}
	s.shipments[orderID] = sh
	return sh, nil
}

// Cancel voids a shipment booking. Cancelling twice is a no-op.
func (s *SimShipping) Cancel(_ context.Context, shipmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[shipmentID] = true
	return nil
}
