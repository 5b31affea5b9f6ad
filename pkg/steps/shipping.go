package steps

import (
	"context"
	"errors"
	"time"

	"github.com/orderflow/orderflow/pkg/history"
	"github.com/orderflow/orderflow/pkg/saga"
)

// ShippingStep books a shipment for the order and cancels it on rollback.
type ShippingStep struct {
	client  ShippingClient
	timeout time.Duration
}

// NewShippingStep creates the shipping arrangement step.
func NewShippingStep(client ShippingClient, timeout time.Duration) *ShippingStep {
	return &ShippingStep{client: client, timeout: timeout}
}

// Name returns the canonical step name.
func (s *ShippingStep) Name() string { return history.StepShipping }

// Timeout returns the per-step timeout override.
func (s *ShippingStep) Timeout() time.Duration { return s.timeout }

// Execute books a shipment, keyed by order id for idempotency.
func (s *ShippingStep) Execute(ctx context.Context, sc *saga.SagaContext) saga.StepResult {
	lines, err := decodeLines(sc)
	if err != nil {
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeUnexpected, err.Error(), false))
	}
	destination, err := decodeAddress(sc)
	if err != nil {
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeUnexpected, err.Error(), false))
	}

	shipment, err := s.client.Arrange(ctx, sc.OrderID(), lines, destination)
	if err != nil {
		if errors.Is(err, ErrShippingUnavailable) {
			return saga.Fail(saga.NewErrorInfo(saga.ErrCodeShippingUnavailable, err.Error(), true).
				WithSuggestedAction("Verify the shipping address and retry"))
		}
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeServiceUnavailable, err.Error(), true))
	}

	return saga.Succeed(map[string]any{
		KeyShipmentID.Name():        shipment.ShipmentID,
		KeyTrackingNumber.Name():    shipment.TrackingNumber,
		KeyEstimatedDelivery.Name(): shipment.EstimatedDelivery,
	})
}

// Compensate cancels the shipment booked by Execute.
func (s *ShippingStep) Compensate(ctx context.Context, sc *saga.SagaContext) saga.CompensationResult {
	shipmentID, ok := saga.Get(sc, KeyShipmentID)
	if !ok || shipmentID == "" {
		return saga.CompensationResult{Success: true, Message: "no shipment to cancel"}
	}
	if err := s.client.Cancel(ctx, shipmentID); err != nil {
		return saga.CompensationResult{Success: false, Message: err.Error()}
	}
	return saga.CompensationResult{Success: true}
}

// CheckValidity never skips shipping: a booked shipment for a failed order
// was cancelled during compensation, and re-booking is always safe.
func (s *ShippingStep) CheckValidity(_ context.Context, _ *saga.SagaContext) saga.StepValidity {
	return saga.InvalidRequiresReExecution("shipments are always re-booked on retry")
}
