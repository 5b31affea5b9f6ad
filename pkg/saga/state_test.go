package saga

import (
	"errors"
	"testing"
)

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{OrderPending, OrderProcessing, true},
		{OrderPending, OrderCompleted, false},
		{OrderProcessing, OrderCompleted, true},
		{OrderProcessing, OrderFailed, true},
		{OrderProcessing, OrderCompensating, true},
		{OrderFailed, OrderCompensating, true},
		{OrderFailed, OrderProcessing, true},
		{OrderCompensating, OrderCompensated, true},
		{OrderCompensating, OrderCompleted, false},
		{OrderCompensated, OrderProcessing, true},
		{OrderCompleted, OrderProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderCompleted, OrderCompensated, OrderFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []OrderStatus{OrderPending, OrderProcessing, OrderCompensating}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestExecutionStatusTransitions(t *testing.T) {
	tests := []struct {
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{ExecutionPending, ExecutionInProgress, true},
		{ExecutionPending, ExecutionCompleted, false},
		{ExecutionInProgress, ExecutionCompleted, true},
		{ExecutionInProgress, ExecutionFailed, true},
		{ExecutionInProgress, ExecutionCompensating, false},
		{ExecutionFailed, ExecutionCompensating, true},
		{ExecutionFailed, ExecutionInProgress, false},
		{ExecutionCompensating, ExecutionCompensated, true},
		{ExecutionCompensated, ExecutionInProgress, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestExecutionStatusValidateTransition(t *testing.T) {
	if err := ExecutionPending.ValidateTransition(ExecutionInProgress); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ExecutionCompleted.ValidateTransition(ExecutionFailed)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestExecutionStatusIsTerminal(t *testing.T) {
	// FAILED is not terminal: compensation still has to run.
	if ExecutionFailed.IsTerminal() {
		t.Error("FAILED should not be terminal")
	}
	if !ExecutionCompleted.IsTerminal() || !ExecutionCompensated.IsTerminal() {
		t.Error("COMPLETED and COMPENSATED should be terminal")
	}
}

func TestExecutionStatusIsActive(t *testing.T) {
	active := []ExecutionStatus{ExecutionPending, ExecutionInProgress, ExecutionCompensating}
	for _, s := range active {
		if !s.IsActive() {
			t.Errorf("%s should be active", s)
		}
	}
	inactive := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionCompensated}
	for _, s := range inactive {
		if s.IsActive() {
			t.Errorf("%s should not be active", s)
		}
	}
}

func TestStepStatusTransitions(t *testing.T) {
	tests := []struct {
		from    StepStatus
		to      StepStatus
		allowed bool
	}{
		{StepPending, StepInProgress, true},
		{StepPending, StepSkipped, true},
		{StepInProgress, StepCompleted, true},
		{StepInProgress, StepFailed, true},
		{StepCompleted, StepCompensating, true},
		{StepCompensating, StepCompensated, true},
		{StepCompensating, StepFailed, true},
		{StepCompensated, StepInProgress, false},
		{StepSkipped, StepInProgress, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}
