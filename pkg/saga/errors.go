package saga

import "errors"

// Sentinel errors returned by the persistence gateway and the engine.
var (
	// ErrNotFound is returned when an order, execution, or step cannot be located.
	ErrNotFound = errors.New("saga record not found")

	// ErrVersionConflict is returned when an optimistic status transition loses.
	ErrVersionConflict = errors.New("saga execution version conflict")

	// ErrExecutionActive is returned when an order already has a non-terminal execution.
	ErrExecutionActive = errors.New("order already has an active execution")

	// ErrDuplicateAttempt is returned when a retry attempt number is already taken.
	ErrDuplicateAttempt = errors.New("retry attempt number already exists")

	// ErrRetryNotEligible is returned when a retry is requested but not allowed.
	ErrRetryNotEligible = errors.New("order is not eligible for retry")

	// ErrInvalidTransition is returned for a status change outside the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Error codes surfaced to callers in ErrorInfo and step results.
const (
	ErrCodeStepFailed          = "STEP_FAILED"
	ErrCodeUnexpected          = "UNEXPECTED_ERROR"
	ErrCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	ErrCodeCompensationFailed  = "COMPENSATION_FAILED"
	ErrCodeVersionConflict     = "VERSION_CONFLICT"
	ErrCodeRetryNotEligible    = "RETRY_NOT_ELIGIBLE"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodePaymentDeclined     = "PAYMENT_DECLINED"
	ErrCodeOutOfStock          = "OUT_OF_STOCK"
	ErrCodeShippingUnavailable = "SHIPPING_UNAVAILABLE"
	ErrCodeFraudDetected       = "FRAUD_DETECTED"
)

// ErrorInfo describes a user-visible failure.
type ErrorInfo struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	Recoverable     bool   `json:"recoverable"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// NewErrorInfo creates an ErrorInfo with the given code and message.
func NewErrorInfo(code, message string, recoverable bool) *ErrorInfo {
	return &ErrorInfo{
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
	}
}

// WithSuggestedAction attaches a suggested action and returns the same ErrorInfo.
func (e *ErrorInfo) WithSuggestedAction(action string) *ErrorInfo {
	e.SuggestedAction = action
	return e
}
