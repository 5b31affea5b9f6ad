package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryGateway is an in-memory Gateway used for local development and
// tests. Every method takes the single lock, so each call is atomic the same
// way a database transaction is.
type MemoryGateway struct {
	mu         sync.Mutex
	orders     map[string]*Order
	items      map[string][]OrderItem      // orderID -> items
	executions map[string]*Execution       // executionID -> execution
	byOrder    map[string][]string         // orderID -> executionIDs in insert order
	steps      map[string][]*StepExecution // executionID -> steps
	events     map[string][]*Event         // orderID -> events
	attempts   map[string][]*RetryAttempt  // orderID -> attempts
	seq        int64
	closed     bool
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		orders:     make(map[string]*Order),
		items:      make(map[string][]OrderItem),
		executions: make(map[string]*Execution),
		byOrder:    make(map[string][]string),
		steps:      make(map[string][]*StepExecution),
		events:     make(map[string][]*Event),
		attempts:   make(map[string][]*RetryAttempt),
	}
}

// InsertOrder persists an order with its items and the creation event.
func (g *MemoryGateway) InsertOrder(_ context.Context, order *Order, items []OrderItem, created *Event) error {
	if order == nil {
		return fmt.Errorf("order cannot be nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	stored := *order
	stored.isNew = false
	g.orders[order.ID] = &stored
	copied := make([]OrderItem, len(items))
	copy(copied, items)
	g.items[order.ID] = copied
	g.appendEventLocked(created)
	order.MarkPersisted()
	return nil
}

// GetOrder returns an order with its items.
func (g *MemoryGateway) GetOrder(_ context.Context, orderID string) (*Order, []OrderItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored, ok := g.orders[orderID]
	if !ok {
		return nil, nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	order := *stored
	items := make([]OrderItem, len(g.items[orderID]))
	copy(items, g.items[orderID])
	return &order, items, nil
}

// UpdateOrderStatus performs a guarded order status change.
func (g *MemoryGateway) UpdateOrderStatus(_ context.Context, orderID string, from, to OrderStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updateOrderStatusLocked(orderID, from, to, time.Now().UTC())
}

func (g *MemoryGateway) updateOrderStatusLocked(orderID string, from, to OrderStatus, at time.Time) error {
	stored, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if stored.Status != from {
		return fmt.Errorf("order %s is %s, expected %s: %w", orderID, stored.Status, from, ErrVersionConflict)
	}
	stored.Status = to
	stored.UpdatedAt = at
	return nil
}

// InsertExecution persists a new execution, rejecting a second active one.
func (g *MemoryGateway) InsertExecution(_ context.Context, exec *Execution) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.executions[exec.ID]; exists {
		return fmt.Errorf("execution %s already exists", exec.ID)
	}
	for _, id := range g.byOrder[exec.OrderID] {
		if g.executions[id].Status.IsActive() {
			return fmt.Errorf("order %s: %w", exec.OrderID, ErrExecutionActive)
		}
	}
	stored := *exec
	stored.isNew = false
	g.executions[exec.ID] = &stored
	g.byOrder[exec.OrderID] = append(g.byOrder[exec.OrderID], exec.ID)
	exec.MarkPersisted()
	return nil
}

// GetExecution returns one execution by id.
func (g *MemoryGateway) GetExecution(_ context.Context, executionID string) (*Execution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored, ok := g.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	exec := *stored
	return &exec, nil
}

// ListExecutions returns all executions for an order, oldest first.
func (g *MemoryGateway) ListExecutions(_ context.Context, orderID string) ([]*Execution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := g.byOrder[orderID]
	out := make([]*Execution, 0, len(ids))
	for _, id := range ids {
		exec := *g.executions[id]
		out = append(out, &exec)
	}
	return out, nil
}

// ListActiveExecutions returns executions in PENDING, IN_PROGRESS, or
// COMPENSATING state.
func (g *MemoryGateway) ListActiveExecutions(_ context.Context) ([]*Execution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Execution
	for _, stored := range g.executions {
		if stored.Status.IsActive() {
			exec := *stored
			out = append(out, &exec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// LoadExecutionForResume returns the latest execution with its steps.
func (g *MemoryGateway) LoadExecutionForResume(_ context.Context, orderID string) (*Execution, []*StepExecution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := g.byOrder[orderID]
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("order %s has no executions: %w", orderID, ErrNotFound)
	}
	latest := *g.executions[ids[len(ids)-1]]
	steps := g.copyStepsLocked(latest.ID)
	return &latest, steps, nil
}

// ListStepExecutions returns the step executions of one execution.
func (g *MemoryGateway) ListStepExecutions(_ context.Context, executionID string) ([]*StepExecution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.executions[executionID]; !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	return g.copyStepsLocked(executionID), nil
}

func (g *MemoryGateway) copyStepsLocked(executionID string) []*StepExecution {
	stored := g.steps[executionID]
	out := make([]*StepExecution, 0, len(stored))
	for _, s := range stored {
		step := *s
		if s.ResultPayload != nil {
			step.ResultPayload = make(map[string]any, len(s.ResultPayload))
			for k, v := range s.ResultPayload {
				step.ResultPayload[k] = v
			}
		}
		out = append(out, &step)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out
}

// InsertStepExecution persists a step row as-is.
func (g *MemoryGateway) InsertStepExecution(_ context.Context, step *StepExecution) error {
	if step == nil {
		return fmt.Errorf("step execution cannot be nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.insertStepLocked(step)
}

func (g *MemoryGateway) insertStepLocked(step *StepExecution) error {
	if _, ok := g.executions[step.ExecutionID]; !ok {
		return fmt.Errorf("execution %s: %w", step.ExecutionID, ErrNotFound)
	}
	for _, existing := range g.steps[step.ExecutionID] {
		if existing.StepIndex == step.StepIndex {
			return fmt.Errorf("execution %s already has step index %d", step.ExecutionID, step.StepIndex)
		}
	}
	stored := *step
	g.steps[step.ExecutionID] = append(g.steps[step.ExecutionID], &stored)
	return nil
}

// RecordStepStart inserts the step row and appends the event atomically.
func (g *MemoryGateway) RecordStepStart(_ context.Context, step *StepExecution, event *Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.insertStepLocked(step); err != nil {
		return err
	}
	g.appendEventLocked(event)
	return nil
}

// RecordStepCompletion marks the step COMPLETED and bumps the cursor.
func (g *MemoryGateway) RecordStepCompletion(_ context.Context, step *StepExecution, event *Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	exec, ok := g.executions[step.ExecutionID]
	if !ok {
		return fmt.Errorf("execution %s: %w", step.ExecutionID, ErrNotFound)
	}
	if exec.Status != ExecutionInProgress {
		return fmt.Errorf("execution %s is %s: %w", exec.ID, exec.Status, ErrVersionConflict)
	}
	stored, err := g.stepLocked(step.ExecutionID, step.StepIndex)
	if err != nil {
		return err
	}
	*stored = *step
	stored.Status = StepCompleted
	exec.CurrentStepIndex = step.StepIndex + 1
	g.appendEventLocked(event)
	return nil
}

// RecordStepFailure marks the step FAILED and applies the execution transition.
func (g *MemoryGateway) RecordStepFailure(_ context.Context, step *StepExecution, tr ExecutionTransition, event *Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored, err := g.stepLocked(step.ExecutionID, step.StepIndex)
	if err != nil {
		return err
	}
	tr.Event = event
	if err := g.transitionLocked(step.ExecutionID, tr); err != nil {
		return err
	}
	*stored = *step
	stored.Status = StepFailed
	return nil
}

// MarkStepCompensating flips a COMPLETED step to COMPENSATING.
func (g *MemoryGateway) MarkStepCompensating(_ context.Context, stepExecutionID string, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored, err := g.stepByIDLocked(stepExecutionID)
	if err != nil {
		return err
	}
	if stored.Status != StepCompleted {
		return fmt.Errorf("step %s is %s, expected COMPLETED: %w", stepExecutionID, stored.Status, ErrVersionConflict)
	}
	stored.Status = StepCompensating
	return nil
}

// RecordStepCompensated marks the step COMPENSATED and appends the event.
func (g *MemoryGateway) RecordStepCompensated(_ context.Context, step *StepExecution, event *Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored, err := g.stepByIDLocked(step.ID)
	if err != nil {
		return err
	}
	*stored = *step
	stored.Status = StepCompensated
	g.appendEventLocked(event)
	return nil
}

// RecordCompensationFailure marks the step FAILED and appends the anomaly event.
func (g *MemoryGateway) RecordCompensationFailure(_ context.Context, step *StepExecution, event *Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored, err := g.stepByIDLocked(step.ID)
	if err != nil {
		return err
	}
	*stored = *step
	stored.Status = StepFailed
	g.appendEventLocked(event)
	return nil
}

func (g *MemoryGateway) stepLocked(executionID string, stepIndex int) (*StepExecution, error) {
	for _, s := range g.steps[executionID] {
		if s.StepIndex == stepIndex {
			return s, nil
		}
	}
	return nil, fmt.Errorf("execution %s step %d: %w", executionID, stepIndex, ErrNotFound)
}

func (g *MemoryGateway) stepByIDLocked(stepExecutionID string) (*StepExecution, error) {
	for _, steps := range g.steps {
		for _, s := range steps {
			if s.ID == stepExecutionID {
				return s, nil
			}
		}
	}
	return nil, fmt.Errorf("step execution %s: %w", stepExecutionID, ErrNotFound)
}

// TransitionExecution applies a guarded execution transition.
func (g *MemoryGateway) TransitionExecution(_ context.Context, executionID string, tr ExecutionTransition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transitionLocked(executionID, tr)
}

func (g *MemoryGateway) transitionLocked(executionID string, tr ExecutionTransition) error {
	exec, ok := g.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if exec.Status != tr.From {
		return fmt.Errorf("execution %s is %s, expected %s: %w", executionID, exec.Status, tr.From, ErrVersionConflict)
	}
	if err := tr.From.ValidateTransition(tr.To); err != nil {
		return err
	}
	if tr.OrderStatus != "" {
		at := time.Now().UTC()
		if tr.Event != nil {
			at = tr.Event.RecordedAt
		}
		if err := g.updateOrderStatusLocked(exec.OrderID, tr.OrderFrom, tr.OrderStatus, at); err != nil {
			return err
		}
	}
	exec.Status = tr.To
	if tr.FailedStepIndex != nil {
		idx := *tr.FailedStepIndex
		exec.FailedStepIndex = &idx
	}
	if tr.FailureReason != "" {
		exec.FailureReason = tr.FailureReason
	}
	if tr.CompletedAt != nil {
		at := *tr.CompletedAt
		exec.CompletedAt = &at
	}
	if tr.CompensationStartedAt != nil {
		at := *tr.CompensationStartedAt
		exec.CompensationStartedAt = &at
	}
	if tr.CompensationCompletedAt != nil {
		at := *tr.CompensationCompletedAt
		exec.CompensationCompletedAt = &at
	}
	if tr.Event != nil {
		g.appendEventLocked(tr.Event)
	}
	for _, evt := range tr.Events {
		g.appendEventLocked(evt)
	}
	return nil
}

// AppendEvent appends a single lifecycle event.
func (g *MemoryGateway) AppendEvent(_ context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.appendEventLocked(event)
	return nil
}

func (g *MemoryGateway) appendEventLocked(event *Event) {
	if event == nil {
		return
	}
	g.seq++
	event.Seq = g.seq
	stored := *event
	g.events[event.OrderID] = append(g.events[event.OrderID], &stored)
}

// ListEvents returns all events for an order in (recorded_at, seq) order.
func (g *MemoryGateway) ListEvents(_ context.Context, orderID string) ([]*Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored := g.events[orderID]
	out := make([]*Event, 0, len(stored))
	for _, e := range stored {
		event := *e
		out = append(out, &event)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// InsertRetryAttempt persists a retry attempt.
func (g *MemoryGateway) InsertRetryAttempt(_ context.Context, attempt *RetryAttempt) error {
	if attempt == nil {
		return fmt.Errorf("retry attempt cannot be nil")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.attempts[attempt.OrderID] {
		if existing.AttemptNumber == attempt.AttemptNumber {
			return fmt.Errorf("order %s attempt %d: %w", attempt.OrderID, attempt.AttemptNumber, ErrDuplicateAttempt)
		}
	}
	stored := *attempt
	g.attempts[attempt.OrderID] = append(g.attempts[attempt.OrderID], &stored)
	return nil
}

// SetRetryExecution records the retry execution id on an attempt.
func (g *MemoryGateway) SetRetryExecution(_ context.Context, attemptID, executionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	attempt, err := g.attemptLocked(attemptID)
	if err != nil {
		return err
	}
	attempt.RetryExecutionID = executionID
	return nil
}

// CompleteRetryAttempt records the terminal outcome of an attempt.
func (g *MemoryGateway) CompleteRetryAttempt(_ context.Context, attemptID string, outcome RetryOutcome, reason string, completedAt time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	attempt, err := g.attemptLocked(attemptID)
	if err != nil {
		return err
	}
	attempt.Outcome = outcome
	attempt.FailureReason = reason
	at := completedAt
	attempt.CompletedAt = &at
	return nil
}

func (g *MemoryGateway) attemptLocked(attemptID string) (*RetryAttempt, error) {
	for _, attempts := range g.attempts {
		for _, a := range attempts {
			if a.ID == attemptID {
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("retry attempt %s: %w", attemptID, ErrNotFound)
}

// ListRetryAttempts returns all retry attempts for an order, oldest first.
func (g *MemoryGateway) ListRetryAttempts(_ context.Context, orderID string) ([]*RetryAttempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stored := g.attempts[orderID]
	out := make([]*RetryAttempt, 0, len(stored))
	for _, a := range stored {
		attempt := *a
		out = append(out, &attempt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

// Healthy reports whether the gateway accepts operations.
func (g *MemoryGateway) Healthy(_ context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed
}

// Close marks the gateway closed.
func (g *MemoryGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}
