// Package models defines API request and response shapes.
package models

import (
	"github.com/orderflow/orderflow/pkg/saga"
)

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	CustomerID      string             `json:"customerId" validate:"required"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethodID string             `json:"paymentMethodId" validate:"required"`
	ShippingAddress AddressRequest     `json:"shippingAddress" validate:"required"`
}

// OrderItemRequest is one line of an order submission.
type OrderItemRequest struct {
	ProductID             string `json:"productId" validate:"required"`
	ProductName           string `json:"productName"`
	Quantity              int    `json:"quantity" validate:"required,min=1"`
	UnitPriceInMinorUnits int64  `json:"unitPriceInMinorUnits" validate:"min=0"`
}

// AddressRequest is the shipping destination of an order submission.
type AddressRequest struct {
	Line1      string `json:"line1" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

// CreateOrderResponse is the body returned by POST /orders.
type CreateOrderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// OrderStatusResponse is the body returned by GET /orders/{id}/status.
type OrderStatusResponse struct {
	OverallStatus string `json:"overallStatus"`
	CurrentStep   string `json:"currentStep,omitempty"`
	FailedStep    string `json:"failedStep,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

// RetryRequest is the optional body of POST /orders/{id}/retry.
type RetryRequest struct {
	AcknowledgedPriceChanges bool     `json:"acknowledgedPriceChanges"`
	CompletedActions         []string `json:"completedActions"`
}

// RetryResponse is the body returned by POST /orders/{id}/retry. Granted
// reports whether a retry execution ran; Eligibility explains a refusal.
type RetryResponse struct {
	Granted          bool             `json:"granted"`
	OrderID          string           `json:"orderId"`
	ExecutionID      string           `json:"executionId,omitempty"`
	AttemptNumber    int              `json:"attemptNumber,omitempty"`
	Outcome          string           `json:"outcome,omitempty"`
	SkippedSteps     []string         `json:"skippedSteps,omitempty"`
	ResumedFromStep  string           `json:"resumedFromStep,omitempty"`
	Eligibility      saga.Eligibility `json:"eligibility"`
	FinalOrderStatus string           `json:"finalOrderStatus,omitempty"`
}
