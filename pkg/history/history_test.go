package history

import (
	"context"
	"testing"
	"time"

	"github.com/orderflow/orderflow/pkg/saga"
)

func mustRegistry(t *testing.T) *saga.Registry {
	t.Helper()
	mk := func(name string) saga.StepDefinition {
		return saga.NewFuncStep(name, func(context.Context, *saga.SagaContext) saga.StepResult {
			return saga.Succeed(nil)
		})
	}
	r, err := saga.NewRegistry(mk(StepInventory), mk(StepPayment), mk(StepShipping))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func TestOrderNumber(t *testing.T) {
	createdAt := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

	got := OrderNumber("a1b2c3d4-e5f6-7890-abcd-ef0123456789", createdAt)
	if got != "ORD-2025-A1B2C3D4" {
		t.Errorf("OrderNumber = %q, want ORD-2025-A1B2C3D4", got)
	}

	// Short ids are used as-is.
	got = OrderNumber("abc", createdAt)
	if got != "ORD-2025-ABC" {
		t.Errorf("OrderNumber = %q, want ORD-2025-ABC", got)
	}
}

func TestBuildTimelineIsDeterministic(t *testing.T) {
	at := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	events := []*saga.Event{
		saga.NewEvent("e1", "order-1", saga.EventOrderCreated, saga.OutcomeNeutral, at),
		saga.NewEvent("e2", "order-1", saga.EventStepStarted, saga.OutcomeNeutral, at.Add(time.Second)).
			ForStep(StepInventory),
		saga.NewEvent("e3", "order-1", saga.EventStepCompleted, saga.OutcomeSuccess, at.Add(2*time.Second)).
			ForStep(StepInventory),
	}

	first := BuildTimeline(events)
	second := BuildTimeline(events)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("timeline lengths = %d, %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Title != second[i].Title || first[i].Description != second[i].Description {
			t.Errorf("entry %d differs between projections", i)
		}
	}

	if first[0].Title != "Order Placed" {
		t.Errorf("title = %q", first[0].Title)
	}
	if first[1].Title != "Reserving Inventory" {
		t.Errorf("title = %q", first[1].Title)
	}
	if first[2].Title != "Inventory Reserved" || first[2].Status != saga.OutcomeSuccess {
		t.Errorf("entry = %+v", first[2])
	}
}

func TestBuildTimelineTemplates(t *testing.T) {
	at := time.Now().UTC()

	tests := []struct {
		event *saga.Event
		title string
	}{
		{saga.NewEvent("e", "o", saga.EventStepFailed, saga.OutcomeFailed, at).ForStep(StepPayment), "Payment Failed"},
		{saga.NewEvent("e", "o", saga.EventStepCompensated, saga.OutcomeCompensated, at).ForStep(StepInventory), "Inventory Released"},
		{saga.NewEvent("e", "o", saga.EventCompensationStarted, saga.OutcomeNeutral, at), "Rolling Back"},
		{saga.NewEvent("e", "o", saga.EventOrderCancelled, saga.OutcomeCompensated, at), "Order Cancelled"},
		{saga.NewEvent("e", "o", saga.EventRetryInitiated, saga.OutcomeNeutral, at), "Retry Started"},
		// A step without a template gets the generic rendering.
		{saga.NewEvent("e", "o", saga.EventStepStarted, saga.OutcomeNeutral, at).ForStep("Gift Wrap"), "Gift Wrap Started"},
		// Unknown event types degrade to the raw type name.
		{saga.NewEvent("e", "o", saga.EventType("CUSTOM"), saga.OutcomeNeutral, at), "CUSTOM"},
	}
	for _, tt := range tests {
		entries := BuildTimeline([]*saga.Event{tt.event})
		if entries[0].Title != tt.title {
			t.Errorf("title for %s/%s = %q, want %q", tt.event.Type, tt.event.StepName, entries[0].Title, tt.title)
		}
	}
}

func TestBuildTimelineEnrichments(t *testing.T) {
	at := time.Now().UTC()

	paid := saga.NewEvent("e", "o", saga.EventStepCompleted, saga.OutcomeSuccess, at).
		ForStep(StepPayment).
		WithDetails(map[string]any{"total_charged": 4999})
	entries := BuildTimeline([]*saga.Event{paid})
	if want := "Payment was authorized successfully. Total charged: 49.99."; entries[0].Description != want {
		t.Errorf("description = %q, want %q", entries[0].Description, want)
	}

	shipped := saga.NewEvent("e", "o", saga.EventStepCompleted, saga.OutcomeSuccess, at).
		ForStep(StepShipping).
		WithDetails(map[string]any{"TRACKING_NUMBER": "TRK-123"})
	entries = BuildTimeline([]*saga.Event{shipped})
	if want := "A shipment has been booked. Tracking number: TRK-123."; entries[0].Description != want {
		t.Errorf("description = %q, want %q", entries[0].Description, want)
	}

	failed := saga.NewEvent("e", "o", saga.EventStepFailed, saga.OutcomeFailed, at).
		ForStep(StepPayment).
		WithError(saga.NewErrorInfo(saga.ErrCodePaymentDeclined, "card declined", true))
	entries = BuildTimeline([]*saga.Event{failed})
	if want := "Payment could not be authorized. card declined"; entries[0].Description != want {
		t.Errorf("description = %q, want %q", entries[0].Description, want)
	}
}

func TestBuildHistory(t *testing.T) {
	createdAt := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	order := saga.NewOrder("a1b2c3d4e5f6", "cust-1", 4999, createdAt)
	order.Status = saga.OrderCompleted

	failedIdx := 1
	doneAt := createdAt.Add(time.Hour)
	executions := []*saga.Execution{
		{
			ID: "exec-1", OrderID: order.ID, Status: saga.ExecutionCompensated,
			FailedStepIndex: &failedIdx, FailureReason: "card declined",
			StartedAt: createdAt,
		},
		{
			ID: "exec-2", OrderID: order.ID, Status: saga.ExecutionCompleted,
			IsRetry: true, StartedAt: createdAt.Add(30 * time.Minute), CompletedAt: &doneAt,
		},
	}
	events := []*saga.Event{
		saga.NewEvent("e1", order.ID, saga.EventOrderCreated, saga.OutcomeNeutral, createdAt),
		saga.NewEvent("e2", order.ID, saga.EventOrderCompleted, saga.OutcomeSuccess, doneAt),
	}

	h := BuildHistory(order, executions, mustRegistry(t), events)

	if h.OrderNumber != "ORD-2025-A1B2C3D4" {
		t.Errorf("OrderNumber = %q", h.OrderNumber)
	}
	if h.FinalStatus != saga.OrderCompleted || !h.WasSuccessful() {
		t.Errorf("FinalStatus = %s", h.FinalStatus)
	}
	if h.CompletedAt == nil || !h.CompletedAt.Equal(doneAt) {
		t.Errorf("CompletedAt = %v", h.CompletedAt)
	}
	if h.TotalAttempts() != 2 || h.RetryCount() != 1 {
		t.Errorf("attempts = %d, retries = %d", h.TotalAttempts(), h.RetryCount())
	}
	if !h.HadCompensations() {
		t.Error("expected HadCompensations")
	}
	if h.Executions[0].FailedStep != StepPayment {
		t.Errorf("FailedStep = %q, want %q", h.Executions[0].FailedStep, StepPayment)
	}
	if len(h.Timeline) != 2 {
		t.Errorf("timeline length = %d", len(h.Timeline))
	}
}
