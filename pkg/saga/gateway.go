package saga

import (
	"context"
	"time"
)

// ExecutionTransition describes one guarded status change of an execution.
// The gateway applies it atomically: the status flip (guarded by From), any
// set-fields, the optional order status change, and the optional event all
// commit in one transaction or not at all.
type ExecutionTransition struct {
	From ExecutionStatus
	To   ExecutionStatus

	// Optional fields applied together with the status flip.
	FailedStepIndex         *int
	FailureReason           string
	CompletedAt             *time.Time
	CompensationStartedAt   *time.Time
	CompensationCompletedAt *time.Time

	// OrderStatus, when non-empty, moves the owning order in the same
	// transaction. OrderFrom guards it.
	OrderFrom   OrderStatus
	OrderStatus OrderStatus

	// Event, when non-nil, is appended in the same transaction. Events
	// carries any further events that must commit with the status flip,
	// appended after Event in slice order.
	Event  *Event
	Events []*Event
}

// Gateway is the transactional persistence contract of the orchestrator.
// Implementations must guard every execution status change with the expected
// current status and fail with ErrVersionConflict when it no longer matches;
// the database is the single serialization point between workers.
type Gateway interface {
	// InsertOrder persists an order with its items and marks both persisted.
	// The created event, when non-nil, is appended in the same transaction
	// so no committed order lacks its ORDER_CREATED record.
	InsertOrder(ctx context.Context, order *Order, items []OrderItem, created *Event) error

	// GetOrder returns an order with its items.
	GetOrder(ctx context.Context, orderID string) (*Order, []OrderItem, error)

	// UpdateOrderStatus performs a guarded order status change.
	UpdateOrderStatus(ctx context.Context, orderID string, from, to OrderStatus) error

	// InsertExecution persists a new execution. Fails with ErrExecutionActive
	// when the order already has a PENDING, IN_PROGRESS, or COMPENSATING one.
	InsertExecution(ctx context.Context, exec *Execution) error

	// GetExecution returns one execution by id.
	GetExecution(ctx context.Context, executionID string) (*Execution, error)

	// ListExecutions returns all executions for an order, oldest first.
	ListExecutions(ctx context.Context, orderID string) ([]*Execution, error)

	// ListActiveExecutions returns every execution in PENDING, IN_PROGRESS,
	// or COMPENSATING state, for the crash-recovery sweep.
	ListActiveExecutions(ctx context.Context) ([]*Execution, error)

	// LoadExecutionForResume returns the latest execution for an order with
	// its step executions in index order.
	LoadExecutionForResume(ctx context.Context, orderID string) (*Execution, []*StepExecution, error)

	// ListStepExecutions returns the step executions of one execution in
	// index order.
	ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error)

	// InsertStepExecution persists a step row as-is. Used for SKIPPED rows
	// constructed by the retry coordinator.
	InsertStepExecution(ctx context.Context, step *StepExecution) error

	// RecordStepStart inserts the IN_PROGRESS step row and appends the event
	// in one transaction.
	RecordStepStart(ctx context.Context, step *StepExecution, event *Event) error

	// RecordStepCompletion marks the step COMPLETED, bumps the execution's
	// CurrentStepIndex to step.StepIndex+1, and appends the event, all in one
	// transaction guarded by the execution being IN_PROGRESS.
	RecordStepCompletion(ctx context.Context, step *StepExecution, event *Event) error

	// RecordStepFailure marks the step FAILED and applies the execution
	// transition (IN_PROGRESS -> FAILED with failure fields) plus the event
	// in one transaction.
	RecordStepFailure(ctx context.Context, step *StepExecution, tr ExecutionTransition, event *Event) error

	// MarkStepCompensating flips a COMPLETED step to COMPENSATING.
	MarkStepCompensating(ctx context.Context, stepExecutionID string, at time.Time) error

	// RecordStepCompensated marks the step COMPENSATED and appends the event
	// in one transaction.
	RecordStepCompensated(ctx context.Context, step *StepExecution, event *Event) error

	// RecordCompensationFailure marks the step FAILED with the compensation
	// error and appends the anomaly event in one transaction.
	RecordCompensationFailure(ctx context.Context, step *StepExecution, event *Event) error

	// TransitionExecution applies a guarded execution transition.
	TransitionExecution(ctx context.Context, executionID string, tr ExecutionTransition) error

	// AppendEvent appends a single lifecycle event outside any transition.
	AppendEvent(ctx context.Context, event *Event) error

	// ListEvents returns all events for an order in (recorded_at, seq) order.
	ListEvents(ctx context.Context, orderID string) ([]*Event, error)

	// InsertRetryAttempt persists a retry attempt. Fails with
	// ErrDuplicateAttempt when (orderID, attemptNumber) is taken.
	InsertRetryAttempt(ctx context.Context, attempt *RetryAttempt) error

	// SetRetryExecution records the retry execution id on an attempt.
	SetRetryExecution(ctx context.Context, attemptID, executionID string) error

	// CompleteRetryAttempt records the terminal outcome of an attempt.
	CompleteRetryAttempt(ctx context.Context, attemptID string, outcome RetryOutcome, reason string, completedAt time.Time) error

	// ListRetryAttempts returns all retry attempts for an order, oldest first.
	ListRetryAttempts(ctx context.Context, orderID string) ([]*RetryAttempt, error)

	// Healthy reports whether the backing store is reachable.
	Healthy(ctx context.Context) bool

	// Close releases the backing store resources.
	Close() error
}
