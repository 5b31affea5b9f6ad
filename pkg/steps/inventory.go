package steps

import (
	"context"
	"errors"
	"time"

	"github.com/orderflow/orderflow/pkg/history"
	"github.com/orderflow/orderflow/pkg/saga"
)

// InventoryStep reserves stock for the order and releases it on rollback.
type InventoryStep struct {
	client  InventoryClient
	timeout time.Duration
}

// NewInventoryStep creates the inventory reservation step.
func NewInventoryStep(client InventoryClient, timeout time.Duration) *InventoryStep {
	return &InventoryStep{client: client, timeout: timeout}
}

// Name returns the canonical step name.
func (s *InventoryStep) Name() string { return history.StepInventory }

// Timeout returns the per-step timeout override.
func (s *InventoryStep) Timeout() time.Duration { return s.timeout }

// Execute reserves the ordered items, keyed by order id for idempotency.
func (s *InventoryStep) Execute(ctx context.Context, sc *saga.SagaContext) saga.StepResult {
	lines, err := decodeLines(sc)
	if err != nil {
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeUnexpected, err.Error(), false))
	}

	reservationID, err := s.client.Reserve(ctx, sc.OrderID(), lines)
	if err != nil {
		if errors.Is(err, ErrOutOfStock) {
			return saga.Fail(saga.NewErrorInfo(saga.ErrCodeOutOfStock, err.Error(), true).
				WithSuggestedAction("Remove unavailable items or try again later"))
		}
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeServiceUnavailable, err.Error(), true))
	}

	return saga.Succeed(map[string]any{
		KeyReservationID.Name(): reservationID,
	})
}

// Compensate releases the reservation created by Execute.
func (s *InventoryStep) Compensate(ctx context.Context, sc *saga.SagaContext) saga.CompensationResult {
	reservationID, ok := saga.Get(sc, KeyReservationID)
	if !ok || reservationID == "" {
		// Nothing was reserved; releasing nothing is a success.
		return saga.CompensationResult{Success: true, Message: "no reservation to release"}
	}
	if err := s.client.Release(ctx, reservationID); err != nil {
		return saga.CompensationResult{Success: false, Message: err.Error()}
	}
	return saga.CompensationResult{Success: true}
}

// CheckValidity asks the collaborator whether the reservation still holds.
func (s *InventoryStep) CheckValidity(ctx context.Context, sc *saga.SagaContext) saga.StepValidity {
	reservationID, ok := saga.Get(sc, KeyReservationID)
	if !ok || reservationID == "" {
		return saga.InvalidRequiresReExecution("no reservation id in context")
	}
	valid, err := s.client.ReservationValid(ctx, reservationID)
	if err != nil {
		return saga.InvalidRequiresReExecution(err.Error())
	}
	if !valid {
		return saga.ExpiredButRefreshable("reservation expired or was released")
	}
	return saga.Valid()
}
