package saga

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testOrder(id string) (*Order, []OrderItem) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	order := NewOrder(id, "cust-1", 2000, now)
	items := []OrderItem{
		{ID: id + "-item", ProductID: "sku-1", Quantity: 2, UnitPriceInMinorUnits: 1000},
	}
	return order, items
}

func TestMemoryGatewayInsertOrder(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	order, items := testOrder("order-1")
	if err := g.InsertOrder(ctx, order, items, nil); err != nil {
		t.Fatalf("InsertOrder failed: %v", err)
	}
	if order.IsNew() {
		t.Error("order should be marked persisted after insert")
	}
	if err := g.InsertOrder(ctx, order, items, nil); err == nil {
		t.Error("expected duplicate insert to fail")
	}

	got, gotItems, err := g.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != OrderPending || len(gotItems) != 1 {
		t.Errorf("got %+v with %d items", got, len(gotItems))
	}

	if _, _, err := g.GetOrder(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryGatewayRejectsSecondActiveExecution(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	order, items := testOrder("order-1")
	if err := g.InsertOrder(ctx, order, items, nil); err != nil {
		t.Fatalf("InsertOrder failed: %v", err)
	}

	now := time.Now().UTC()
	if err := g.InsertExecution(ctx, NewExecution("exec-1", "order-1", now)); err != nil {
		t.Fatalf("InsertExecution failed: %v", err)
	}
	err := g.InsertExecution(ctx, NewExecution("exec-2", "order-1", now))
	if !errors.Is(err, ErrExecutionActive) {
		t.Errorf("expected ErrExecutionActive, got %v", err)
	}
}

func TestMemoryGatewayTransitionGuards(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	order, items := testOrder("order-1")
	if err := g.InsertOrder(ctx, order, items, nil); err != nil {
		t.Fatalf("InsertOrder failed: %v", err)
	}
	now := time.Now().UTC()
	if err := g.InsertExecution(ctx, NewExecution("exec-1", "order-1", now)); err != nil {
		t.Fatalf("InsertExecution failed: %v", err)
	}

	claim := ExecutionTransition{
		From:        ExecutionPending,
		To:          ExecutionInProgress,
		OrderFrom:   OrderPending,
		OrderStatus: OrderProcessing,
	}
	if err := g.TransitionExecution(ctx, "exec-1", claim); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// A second identical claim loses the optimistic check.
	err := g.TransitionExecution(ctx, "exec-1", claim)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	// A move outside the state machine is rejected.
	err = g.TransitionExecution(ctx, "exec-1", ExecutionTransition{
		From: ExecutionInProgress,
		To:   ExecutionCompensated,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	err = g.TransitionExecution(ctx, "missing", claim)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryGatewayStepLifecycle(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	order, items := testOrder("order-1")
	if err := g.InsertOrder(ctx, order, items, nil); err != nil {
		t.Fatalf("InsertOrder failed: %v", err)
	}
	now := time.Now().UTC()
	if err := g.InsertExecution(ctx, NewExecution("exec-1", "order-1", now)); err != nil {
		t.Fatalf("InsertExecution failed: %v", err)
	}
	if err := g.TransitionExecution(ctx, "exec-1", ExecutionTransition{
		From: ExecutionPending, To: ExecutionInProgress,
		OrderFrom: OrderPending, OrderStatus: OrderProcessing,
	}); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	step := &StepExecution{
		ID: "step-1", ExecutionID: "exec-1", StepName: "inventory",
		StepIndex: 0, Status: StepInProgress, StartedAt: &now,
	}
	evt := NewEvent("evt-1", "order-1", EventStepStarted, OutcomeNeutral, now)
	if err := g.RecordStepStart(ctx, step, evt); err != nil {
		t.Fatalf("RecordStepStart failed: %v", err)
	}

	step.Status = StepCompleted
	step.CompletedAt = &now
	step.ResultPayload = map[string]any{"reservation_id": "res-1"}
	done := NewEvent("evt-2", "order-1", EventStepCompleted, OutcomeSuccess, now)
	if err := g.RecordStepCompletion(ctx, step, done); err != nil {
		t.Fatalf("RecordStepCompletion failed: %v", err)
	}

	exec, err := g.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if exec.CurrentStepIndex != 1 {
		t.Errorf("CurrentStepIndex = %d, want 1", exec.CurrentStepIndex)
	}

	steps, err := g.ListStepExecutions(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListStepExecutions failed: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != StepCompleted {
		t.Errorf("steps = %+v", steps)
	}

	// The listing hands out copies, not shared rows.
	steps[0].ResultPayload["reservation_id"] = "mutated"
	again, _ := g.ListStepExecutions(ctx, "exec-1")
	if again[0].ResultPayload["reservation_id"] != "res-1" {
		t.Error("step payload mutation leaked into the store")
	}
}

func TestMemoryGatewayEventOrdering(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// Same RecordedAt: seq breaks the tie in append order.
	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		if err := g.AppendEvent(ctx, NewEvent(id, "order-1", EventStepStarted, OutcomeNeutral, at)); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	early := NewEvent("evt-0", "order-1", EventOrderCreated, OutcomeNeutral, at.Add(-time.Second))
	if err := g.AppendEvent(ctx, early); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := g.ListEvents(ctx, "order-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	want := []string{"evt-0", "evt-1", "evt-2", "evt-3"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, id := range want {
		if events[i].ID != id {
			t.Errorf("events[%d] = %s, want %s", i, events[i].ID, id)
		}
	}
}

func TestMemoryGatewayRetryAttempts(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	now := time.Now().UTC()

	attempt := &RetryAttempt{ID: "att-1", OrderID: "order-1", AttemptNumber: 1, InitiatedAt: now}
	if err := g.InsertRetryAttempt(ctx, attempt); err != nil {
		t.Fatalf("InsertRetryAttempt failed: %v", err)
	}
	dup := &RetryAttempt{ID: "att-2", OrderID: "order-1", AttemptNumber: 1, InitiatedAt: now}
	if err := g.InsertRetryAttempt(ctx, dup); !errors.Is(err, ErrDuplicateAttempt) {
		t.Errorf("expected ErrDuplicateAttempt, got %v", err)
	}

	if err := g.SetRetryExecution(ctx, "att-1", "exec-2"); err != nil {
		t.Fatalf("SetRetryExecution failed: %v", err)
	}
	if err := g.CompleteRetryAttempt(ctx, "att-1", RetryFailed, "payment declined", now); err != nil {
		t.Fatalf("CompleteRetryAttempt failed: %v", err)
	}

	attempts, err := g.ListRetryAttempts(ctx, "order-1")
	if err != nil {
		t.Fatalf("ListRetryAttempts failed: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("got %d attempts", len(attempts))
	}
	got := attempts[0]
	if got.RetryExecutionID != "exec-2" || got.Outcome != RetryFailed || got.CompletedAt == nil {
		t.Errorf("attempt = %+v", got)
	}
}

func TestMemoryGatewayHealthy(t *testing.T) {
	g := NewMemoryGateway()
	if !g.Healthy(context.Background()) {
		t.Error("expected healthy gateway")
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if g.Healthy(context.Background()) {
		t.Error("expected closed gateway to be unhealthy")
	}
}

func TestMemoryGatewayInsertOrderAppendsCreationEvent(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	order, items := testOrder("order-1")
	created := NewEvent("evt-created", "order-1", EventOrderCreated, OutcomeNeutral, order.CreatedAt)

	if err := g.InsertOrder(ctx, order, items, created); err != nil {
		t.Fatalf("InsertOrder failed: %v", err)
	}

	events, err := g.ListEvents(ctx, "order-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventOrderCreated {
		t.Errorf("events = %+v, want a single ORDER_CREATED", events)
	}
}

func TestMemoryGatewayTransitionAppendsAllEvents(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	order, items := testOrder("order-1")
	if err := g.InsertOrder(ctx, order, items, nil); err != nil {
		t.Fatalf("InsertOrder failed: %v", err)
	}
	now := time.Now().UTC()
	if err := g.InsertExecution(ctx, NewExecution("exec-1", "order-1", now)); err != nil {
		t.Fatalf("InsertExecution failed: %v", err)
	}
	if err := g.TransitionExecution(ctx, "exec-1", ExecutionTransition{
		From: ExecutionPending, To: ExecutionInProgress,
		OrderFrom: OrderPending, OrderStatus: OrderProcessing,
	}); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	completedAt := now.Add(time.Second)
	done := ExecutionTransition{
		From:        ExecutionInProgress,
		To:          ExecutionCompleted,
		CompletedAt: &completedAt,
		OrderFrom:   OrderProcessing,
		OrderStatus: OrderCompleted,
		Event:       NewEvent("evt-1", "order-1", EventSagaCompleted, OutcomeSuccess, completedAt),
		Events: []*Event{
			NewEvent("evt-2", "order-1", EventOrderCompleted, OutcomeSuccess, completedAt),
		},
	}
	if err := g.TransitionExecution(ctx, "exec-1", done); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	events, err := g.ListEvents(ctx, "order-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventSagaCompleted || events[1].Type != EventOrderCompleted {
		t.Errorf("event order = %s, %s", events[0].Type, events[1].Type)
	}

	// A conflicting transition appends nothing.
	err = g.TransitionExecution(ctx, "exec-1", done)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	events, _ = g.ListEvents(ctx, "order-1")
	if len(events) != 2 {
		t.Errorf("got %d events after rejected transition, want 2", len(events))
	}
}

func TestMemoryGatewayListActiveIncludesPending(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	order, items := testOrder("order-1")
	if err := g.InsertOrder(ctx, order, items, nil); err != nil {
		t.Fatalf("InsertOrder failed: %v", err)
	}
	now := time.Now().UTC()
	if err := g.InsertExecution(ctx, NewExecution("exec-1", "order-1", now)); err != nil {
		t.Fatalf("InsertExecution failed: %v", err)
	}

	active, err := g.ListActiveExecutions(ctx)
	if err != nil {
		t.Fatalf("ListActiveExecutions failed: %v", err)
	}
	if len(active) != 1 || active[0].Status != ExecutionPending {
		t.Errorf("active = %+v, want the PENDING execution", active)
	}
}
