package steps

import (
	"context"
	"errors"
	"time"

	"github.com/orderflow/orderflow/pkg/history"
	"github.com/orderflow/orderflow/pkg/saga"
)

// PaymentStep authorizes payment for the order total and voids it on
// rollback.
type PaymentStep struct {
	client  PaymentClient
	timeout time.Duration
}

// NewPaymentStep creates the payment processing step.
func NewPaymentStep(client PaymentClient, timeout time.Duration) *PaymentStep {
	return &PaymentStep{client: client, timeout: timeout}
}

// Name returns the canonical step name.
func (s *PaymentStep) Name() string { return history.StepPayment }

// Timeout returns the per-step timeout override.
func (s *PaymentStep) Timeout() time.Duration { return s.timeout }

// Execute authorizes the order total, keyed by order id for idempotency.
func (s *PaymentStep) Execute(ctx context.Context, sc *saga.SagaContext) saga.StepResult {
	customerID, ok := saga.Get(sc, KeyCustomerID)
	if !ok || customerID == "" {
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeUnexpected, "context is missing CUSTOMER_ID", false))
	}
	paymentMethodID, ok := saga.Get(sc, KeyPaymentMethodID)
	if !ok || paymentMethodID == "" {
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeUnexpected, "context is missing PAYMENT_METHOD_ID", false))
	}
	amount, err := decodeAmount(sc)
	if err != nil {
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeUnexpected, err.Error(), false))
	}

	authorizationID, err := s.client.Authorize(ctx, sc.OrderID(), customerID, paymentMethodID, amount)
	if err != nil {
		if errors.Is(err, ErrPaymentDeclined) {
			return saga.Fail(saga.NewErrorInfo(saga.ErrCodePaymentDeclined, err.Error(), true).
				WithSuggestedAction("Update your payment method and retry"))
		}
		return saga.Fail(saga.NewErrorInfo(saga.ErrCodeServiceUnavailable, err.Error(), true))
	}

	return saga.Succeed(map[string]any{
		KeyAuthorizationID.Name(): authorizationID,
		"total_charged":           amount,
	})
}

// Compensate voids the authorization created by Execute.
func (s *PaymentStep) Compensate(ctx context.Context, sc *saga.SagaContext) saga.CompensationResult {
	authorizationID, ok := saga.Get(sc, KeyAuthorizationID)
	if !ok || authorizationID == "" {
		return saga.CompensationResult{Success: true, Message: "no authorization to void"}
	}
	if err := s.client.Void(ctx, authorizationID); err != nil {
		return saga.CompensationResult{Success: false, Message: err.Error()}
	}
	return saga.CompensationResult{Success: true}
}

// CheckValidity asks the collaborator whether the authorization still holds.
func (s *PaymentStep) CheckValidity(ctx context.Context, sc *saga.SagaContext) saga.StepValidity {
	authorizationID, ok := saga.Get(sc, KeyAuthorizationID)
	if !ok || authorizationID == "" {
		return saga.InvalidRequiresReExecution("no authorization id in context")
	}
	valid, err := s.client.AuthorizationValid(ctx, authorizationID)
	if err != nil {
		return saga.InvalidRequiresReExecution(err.Error())
	}
	if !valid {
		return saga.InvalidRequiresReExecution("authorization was voided or expired")
	}
	return saga.Valid()
}
