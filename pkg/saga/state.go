package saga

import "fmt"

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPending      OrderStatus = "PENDING"
	OrderProcessing   OrderStatus = "PROCESSING"
	OrderCompleted    OrderStatus = "COMPLETED"
	OrderFailed       OrderStatus = "FAILED"
	OrderCompensating OrderStatus = "COMPENSATING"
	OrderCompensated  OrderStatus = "COMPENSATED"
)

// IsTerminal reports whether the order status is terminal.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCompensated || s == OrderFailed
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:      {OrderProcessing},
	OrderProcessing:   {OrderCompleted, OrderFailed, OrderCompensating},
	OrderFailed:       {OrderCompensating, OrderProcessing},
	OrderCompensating: {OrderCompensated},
	// A caller-initiated retry revives a terminally failed order.
	OrderCompensated: {OrderProcessing},
}

// CanTransitionTo reports whether the order status may move to target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ExecutionStatus is the lifecycle state of a SagaExecution.
type ExecutionStatus string

const (
	ExecutionPending      ExecutionStatus = "PENDING"
	ExecutionInProgress   ExecutionStatus = "IN_PROGRESS"
	ExecutionCompleted    ExecutionStatus = "COMPLETED"
	ExecutionFailed       ExecutionStatus = "FAILED"
	ExecutionCompensating ExecutionStatus = "COMPENSATING"
	ExecutionCompensated  ExecutionStatus = "COMPENSATED"
)

// IsTerminal reports whether the execution status is terminal.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionCompensated
}

// IsActive reports whether the execution is still being driven by an engine.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionPending || s == ExecutionInProgress || s == ExecutionCompensating
}

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending:      {ExecutionInProgress},
	ExecutionInProgress:   {ExecutionCompleted, ExecutionFailed},
	ExecutionFailed:       {ExecutionCompensating},
	ExecutionCompensating: {ExecutionCompensated},
}

// CanTransitionTo reports whether the execution status may move to target.
func (s ExecutionStatus) CanTransitionTo(target ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when the move is not allowed.
func (s ExecutionStatus) ValidateTransition(target ExecutionStatus) error {
	if !s.CanTransitionTo(target) {
		return fmt.Errorf("%w: execution %s -> %s", ErrInvalidTransition, s, target)
	}
	return nil
}

// StepStatus is the lifecycle state of a StepExecution.
type StepStatus string

const (
	StepPending      StepStatus = "PENDING"
	StepInProgress   StepStatus = "IN_PROGRESS"
	StepCompleted    StepStatus = "COMPLETED"
	StepFailed       StepStatus = "FAILED"
	StepCompensating StepStatus = "COMPENSATING"
	StepCompensated  StepStatus = "COMPENSATED"
	StepSkipped      StepStatus = "SKIPPED"
)

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending:      {StepInProgress, StepSkipped},
	StepInProgress:   {StepCompleted, StepFailed},
	StepCompleted:    {StepCompensating},
	StepCompensating: {StepCompensated, StepFailed},
}

// CanTransitionTo reports whether the step status may move to target.
func (s StepStatus) CanTransitionTo(target StepStatus) bool {
	for _, allowed := range stepTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}
