package saga

import (
	"context"
	"strings"
	"testing"
)

func noopStep(name string) *FuncStep {
	return NewFuncStep(name, func(context.Context, *SagaContext) StepResult {
		return Succeed(nil)
	})
}

func TestNewRegistryRejectsEmpty(t *testing.T) {
	if _, err := NewRegistry(); err == nil {
		t.Error("expected error for empty registry")
	}
}

func TestNewRegistryRejectsNilStep(t *testing.T) {
	if _, err := NewRegistry(noopStep("a"), nil); err == nil {
		t.Error("expected error for nil step")
	}
}

func TestNewRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(noopStep("a"), noopStep("a"))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate name error, got %v", err)
	}
}

func TestNewRegistryRejectsEmptyName(t *testing.T) {
	if _, err := NewRegistry(noopStep("")); err == nil {
		t.Error("expected error for empty step name")
	}
}

func TestRegistryOrdering(t *testing.T) {
	r, err := NewRegistry(noopStep("a"), noopStep("b"), noopStep("c"))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}

	names := r.Names()
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("Names = %v", names)
	}

	step, err := r.Step(1)
	if err != nil || step.Name() != "b" {
		t.Errorf("Step(1) = %v, %v", step, err)
	}
	if _, err := r.Step(3); err == nil {
		t.Error("expected out-of-range error")
	}
	if _, err := r.Step(-1); err == nil {
		t.Error("expected out-of-range error")
	}

	if i, ok := r.IndexOf("c"); !ok || i != 2 {
		t.Errorf("IndexOf(c) = (%d, %v)", i, ok)
	}
	if _, ok := r.IndexOf("missing"); ok {
		t.Error("IndexOf should miss for unknown name")
	}
}
