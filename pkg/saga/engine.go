package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orderflow/orderflow/pkg/clock"
	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/stream"
)

// seedDetailsKey is where the initial context seed is kept inside the
// ORDER_CREATED event, so a crashed execution can rebuild its context from
// the database alone.
const seedDetailsKey = "seed"

// EngineOption customizes Engine initialization.
type EngineOption func(*Engine)

// WithMaxConcurrent caps the number of simultaneously running executions.
func WithMaxConcurrent(max int) EngineOption {
	return func(e *Engine) {
		if max > 0 {
			e.sema = make(chan struct{}, max)
		}
	}
}

// WithStream wires a status bus into the engine.
func WithStream(bus stream.Bus) EngineOption {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithMetrics wires a metrics recorder into the engine.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock injects the time source.
func WithClock(clk clock.Clock) EngineOption {
	return func(e *Engine) {
		if clk != nil {
			e.clk = clk
		}
	}
}

// WithIDGenerator injects the identifier source.
func WithIDGenerator(ids clock.IDGenerator) EngineOption {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// Engine drives saga executions through the state machine: forward steps in
// registry order, best-effort compensation in reverse on failure, and resume
// after a crash. Progress is committed per step before the next collaborator
// call, so forward steps and compensations have at-least-once semantics.
type Engine struct {
	registry *Registry
	gateway  Gateway
	runtime  *Runtime
	bus      stream.Bus
	clk      clock.Clock
	ids      clock.IDGenerator
	metrics  MetricsRecorder
	log      logger.Logger
	sema     chan struct{}
}

// NewEngine creates an Engine over the given registry and gateway.
func NewEngine(registry *Registry, gateway Gateway, runtime *Runtime, options ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if runtime == nil {
		return nil, fmt.Errorf("runtime cannot be nil")
	}
	e := &Engine{
		registry: registry,
		gateway:  gateway,
		runtime:  runtime,
		clk:      clock.System{},
		ids:      clock.UUIDGenerator{},
		metrics:  NopMetrics(),
		log:      logger.Global(),
		sema:     make(chan struct{}, 100),
	}
	for _, option := range options {
		if option != nil {
			option(e)
		}
	}
	return e, nil
}

// Registry returns the engine's step registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Gateway returns the engine's persistence gateway.
func (e *Engine) Gateway() Gateway {
	return e.gateway
}

// NewOrderInput carries everything needed to create an order and its first
// execution. Seed holds initial saga context values (payment method,
// shipping address) that steps read by key.
type NewOrderInput struct {
	CustomerID              string
	Items                   []OrderItem
	TotalAmountInMinorUnits int64
	Seed                    map[string]any
}

// StartOrder validates and persists a new order, records ORDER_CREATED, and
// creates the first execution in PENDING state. Nothing is persisted when
// validation fails. The caller hands the returned execution to Run.
func (e *Engine) StartOrder(ctx context.Context, input NewOrderInput) (*Order, *Execution, *SagaContext, error) {
	now := e.clk.Now()
	order := NewOrder(e.ids.NewID(), input.CustomerID, input.TotalAmountInMinorUnits, now)
	items := make([]OrderItem, len(input.Items))
	copy(items, input.Items)
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = e.ids.NewID()
		}
		items[i].OrderID = order.ID
	}
	if err := order.Validate(items); err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", ErrCodeValidationFailed, err)
	}

	details := map[string]any{
		"customer_id":  order.CustomerID,
		"total_amount": order.TotalAmountInMinorUnits,
		"item_count":   len(items),
	}
	if len(input.Seed) > 0 {
		details[seedDetailsKey] = input.Seed
	}
	created := NewEvent(e.ids.NewID(), order.ID, EventOrderCreated, OutcomeNeutral, e.clk.Now()).
		WithDetails(details)
	if err := e.gateway.InsertOrder(ctx, order, items, created); err != nil {
		return nil, nil, nil, fmt.Errorf("insert order: %w", err)
	}

	exec := NewExecution(e.ids.NewID(), order.ID, e.clk.Now())
	if err := e.gateway.InsertExecution(ctx, exec); err != nil {
		return nil, nil, nil, fmt.Errorf("insert execution: %w", err)
	}

	sc := NewContext(order.ID, exec.ID)
	sc.MergeResult(input.Seed)

	e.log.InfoContext(ctx, "order accepted",
		"order_id", order.ID,
		"execution_id", exec.ID,
		"customer_id", order.CustomerID,
		"total_amount", order.TotalAmountInMinorUnits,
	)
	return order, exec, sc, nil
}

// Run drives one PENDING execution to a terminal state. It returns
// ErrVersionConflict when another worker owns the execution; the caller
// should treat that as a silent abort.
func (e *Engine) Run(ctx context.Context, exec *Execution, sc *SagaContext) error {
	select {
	case e.sema <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sema }()

	e.metrics.IncActiveExecutions()
	defer e.metrics.DecActiveExecutions()

	runCtx, span := startSpan(ctx, spanExecutionRun,
		attribute.String("order.id", exec.OrderID),
		attribute.String("execution.id", exec.ID),
		attribute.Bool("execution.retry", exec.IsRetry),
	)
	err := e.run(runCtx, exec, sc)
	endSpan(span, err)
	return err
}

func (e *Engine) run(ctx context.Context, exec *Execution, sc *SagaContext) error {
	started := e.clk.Now()

	order, _, err := e.gateway.GetOrder(ctx, exec.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	tr := ExecutionTransition{
		From:        ExecutionPending,
		To:          ExecutionInProgress,
		OrderFrom:   order.Status,
		OrderStatus: OrderProcessing,
		Event: NewEvent(e.ids.NewID(), exec.OrderID, EventSagaStarted, OutcomeNeutral, e.clk.Now()).
			ForExecution(exec.ID),
	}
	if err := e.gateway.TransitionExecution(ctx, exec.ID, tr); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			e.log.DebugContext(ctx, "execution already claimed", "execution_id", exec.ID)
		}
		return err
	}
	exec.Status = ExecutionInProgress
	e.publish(ctx, exec, EventSagaStarted, "")

	return e.runForward(ctx, exec, sc, started)
}

// runForward executes the remaining forward steps. Steps that already have a
// COMPLETED or SKIPPED row (resume, retry) are folded into the context and
// not re-invoked.
func (e *Engine) runForward(ctx context.Context, exec *Execution, sc *SagaContext, started time.Time) error {
	existing, err := e.stepsByIndex(ctx, exec.ID)
	if err != nil {
		return err
	}

	for i := 0; i < e.registry.Len(); i++ {
		step, err := e.registry.Step(i)
		if err != nil {
			return err
		}

		if prior, ok := existing[i]; ok {
			switch prior.Status {
			case StepCompleted:
				sc.MergeResult(prior.ResultPayload)
				sc.MarkCompleted(prior.StepName)
				continue
			case StepSkipped:
				sc.MergeResult(prior.ResultPayload)
				continue
			}
		}

		if err := e.runStep(ctx, exec, sc, step, i, existing[i]); err != nil {
			var failure *stepFailure
			if errors.As(err, &failure) {
				return e.compensate(ctx, exec, sc, i, started)
			}
			return err
		}
	}

	completedAt := e.clk.Now()
	tr := ExecutionTransition{
		From:        ExecutionInProgress,
		To:          ExecutionCompleted,
		CompletedAt: &completedAt,
		OrderFrom:   OrderProcessing,
		OrderStatus: OrderCompleted,
		Event: NewEvent(e.ids.NewID(), exec.OrderID, EventSagaCompleted, OutcomeSuccess, completedAt).
			ForExecution(exec.ID),
		Events: []*Event{
			NewEvent(e.ids.NewID(), exec.OrderID, EventOrderCompleted, OutcomeSuccess, completedAt).
				ForExecution(exec.ID),
		},
	}
	if err := e.gateway.TransitionExecution(ctx, exec.ID, tr); err != nil {
		return err
	}
	exec.Status = ExecutionCompleted
	exec.CompletedAt = &completedAt

	e.publish(ctx, exec, EventOrderCompleted, "")
	e.metrics.RecordExecution(string(ExecutionCompleted), e.clk.Now().Sub(started))
	e.log.InfoContext(ctx, "saga completed",
		"order_id", exec.OrderID,
		"execution_id", exec.ID,
	)
	return nil
}

// stepFailure signals a recorded forward failure to the forward loop.
type stepFailure struct {
	info *ErrorInfo
}

func (f *stepFailure) Error() string {
	return fmt.Sprintf("step failed: %s: %s", f.info.Code, f.info.Message)
}

// runStep invokes one forward step and commits its outcome. A prior
// IN_PROGRESS row (crash mid-step) is reused instead of inserting a new one;
// the collaborator sees the call again, which is why collaborators must be
// idempotent.
func (e *Engine) runStep(ctx context.Context, exec *Execution, sc *SagaContext, step StepDefinition, index int, prior *StepExecution) error {
	stepCtx, span := startSpan(ctx, spanStepExecute,
		attribute.String("step.name", step.Name()),
		attribute.Int("step.index", index),
	)
	defer span.End()

	now := e.clk.Now()
	rec := prior
	if rec == nil {
		rec = &StepExecution{
			ID:          e.ids.NewID(),
			ExecutionID: exec.ID,
			StepName:    step.Name(),
			StepIndex:   index,
			Status:      StepInProgress,
			StartedAt:   &now,
		}
		startedEvt := NewEvent(e.ids.NewID(), exec.OrderID, EventStepStarted, OutcomeNeutral, now).
			ForExecution(exec.ID).
			ForStep(step.Name())
		if err := e.gateway.RecordStepStart(stepCtx, rec, startedEvt); err != nil {
			return err
		}
		e.publish(stepCtx, exec, EventStepStarted, step.Name())
	}

	result, elapsed := e.runtime.ExecuteStep(stepCtx, step, sc)
	e.metrics.RecordStep(step.Name(), resultStatus(result), elapsed)

	if result.Success {
		completedAt := e.clk.Now()
		rec.Status = StepCompleted
		rec.CompletedAt = &completedAt
		rec.ResultPayload = result.Data
		completedEvt := NewEvent(e.ids.NewID(), exec.OrderID, EventStepCompleted, OutcomeSuccess, completedAt).
			ForExecution(exec.ID).
			ForStep(step.Name()).
			WithDetails(result.Data)
		if err := e.gateway.RecordStepCompletion(stepCtx, rec, completedEvt); err != nil {
			return err
		}
		exec.CurrentStepIndex = index + 1
		sc.MergeResult(result.Data)
		sc.MarkCompleted(step.Name())
		e.publish(stepCtx, exec, EventStepCompleted, step.Name())
		e.log.InfoContext(stepCtx, "step completed",
			"order_id", exec.OrderID,
			"execution_id", exec.ID,
			"step", step.Name(),
			"duration_ms", elapsed.Milliseconds(),
		)
		return nil
	}

	failedAt := e.clk.Now()
	rec.Status = StepFailed
	rec.ErrorCode = result.Error.Code
	rec.ErrorMessage = result.Error.Message
	failedIdx := index
	tr := ExecutionTransition{
		From:            ExecutionInProgress,
		To:              ExecutionFailed,
		FailedStepIndex: &failedIdx,
		FailureReason:   result.Error.Message,
		OrderFrom:       OrderProcessing,
		OrderStatus:     OrderFailed,
		Events: []*Event{
			NewEvent(e.ids.NewID(), exec.OrderID, EventSagaFailed, OutcomeFailed, failedAt).
				ForExecution(exec.ID).
				WithError(result.Error),
		},
	}
	failedEvt := NewEvent(e.ids.NewID(), exec.OrderID, EventStepFailed, OutcomeFailed, failedAt).
		ForExecution(exec.ID).
		ForStep(step.Name()).
		WithError(result.Error)
	if err := e.gateway.RecordStepFailure(stepCtx, rec, tr, failedEvt); err != nil {
		return err
	}
	exec.Status = ExecutionFailed
	exec.FailedStepIndex = &failedIdx
	exec.FailureReason = result.Error.Message

	e.publish(stepCtx, exec, EventStepFailed, step.Name())
	e.log.WarnContext(stepCtx, "step failed",
		"order_id", exec.OrderID,
		"execution_id", exec.ID,
		"step", step.Name(),
		"error_code", result.Error.Code,
		"error", result.Error.Message,
	)
	return &stepFailure{info: result.Error}
}

// compensate reverses completed steps below the failed index, best-effort:
// a failed compensation is recorded as an anomaly and the walk continues
// with earlier steps. The execution always reaches COMPENSATED.
func (e *Engine) compensate(ctx context.Context, exec *Execution, sc *SagaContext, failedIndex int, started time.Time) error {
	compCtx, span := startSpan(ctx, spanCompensation,
		attribute.String("order.id", exec.OrderID),
		attribute.String("execution.id", exec.ID),
		attribute.Int("failed.step.index", failedIndex),
	)
	defer span.End()

	startedAt := e.clk.Now()
	tr := ExecutionTransition{
		From:                  ExecutionFailed,
		To:                    ExecutionCompensating,
		CompensationStartedAt: &startedAt,
		OrderFrom:             OrderFailed,
		OrderStatus:           OrderCompensating,
		Event: NewEvent(e.ids.NewID(), exec.OrderID, EventCompensationStarted, OutcomeNeutral, startedAt).
			ForExecution(exec.ID),
	}
	if err := e.gateway.TransitionExecution(compCtx, exec.ID, tr); err != nil {
		return err
	}
	exec.Status = ExecutionCompensating
	e.publish(compCtx, exec, EventCompensationStarted, "")

	return e.runCompensation(compCtx, exec, sc, failedIndex, started)
}

// runCompensation walks COMPLETED steps below failedIndex in reverse order.
// It is entered both from a fresh failure and from crash recovery, so it
// re-reads step rows and skips anything already compensated.
func (e *Engine) runCompensation(ctx context.Context, exec *Execution, sc *SagaContext, failedIndex int, started time.Time) error {
	steps, err := e.gateway.ListStepExecutions(ctx, exec.ID)
	if err != nil {
		return err
	}

	for i := len(steps) - 1; i >= 0; i-- {
		rec := steps[i]
		if rec.StepIndex >= failedIndex {
			continue
		}
		if rec.Status != StepCompleted && rec.Status != StepCompensating {
			continue
		}

		step, err := e.registry.Step(rec.StepIndex)
		if err != nil {
			return err
		}

		if rec.Status == StepCompleted {
			if err := e.gateway.MarkStepCompensating(ctx, rec.ID, e.clk.Now()); err != nil {
				return err
			}
			rec.Status = StepCompensating
		}

		revCtx, revSpan := startSpan(ctx, spanStepReverse,
			attribute.String("step.name", step.Name()),
			attribute.Int("step.index", rec.StepIndex),
		)
		result, elapsed := e.runtime.CompensateStep(revCtx, step, sc)
		revSpan.End()

		if result.Success {
			compensatedAt := e.clk.Now()
			rec.CompensatedAt = &compensatedAt
			evt := NewEvent(e.ids.NewID(), exec.OrderID, EventStepCompensated, OutcomeCompensated, compensatedAt).
				ForExecution(exec.ID).
				ForStep(step.Name())
			if err := e.gateway.RecordStepCompensated(ctx, rec, evt); err != nil {
				return err
			}
			e.metrics.RecordCompensation(step.Name(), string(StepCompensated))
			e.publish(ctx, exec, EventStepCompensated, step.Name())
			e.log.InfoContext(ctx, "step compensated",
				"order_id", exec.OrderID,
				"execution_id", exec.ID,
				"step", step.Name(),
				"duration_ms", elapsed.Milliseconds(),
			)
			continue
		}

		// Best-effort: record the anomaly and keep reversing earlier steps.
		info := NewErrorInfo(ErrCodeCompensationFailed, result.Message, false)
		rec.ErrorCode = ErrCodeCompensationFailed
		rec.ErrorMessage = result.Message
		evt := NewEvent(e.ids.NewID(), exec.OrderID, EventStepFailed, OutcomeFailed, e.clk.Now()).
			ForExecution(exec.ID).
			ForStep(step.Name()).
			WithError(info)
		if err := e.gateway.RecordCompensationFailure(ctx, rec, evt); err != nil {
			return err
		}
		e.metrics.RecordCompensation(step.Name(), string(StepFailed))
		e.metrics.RecordCompensationAnomaly(step.Name())
		e.log.ErrorContext(ctx, "compensation failed",
			"order_id", exec.OrderID,
			"execution_id", exec.ID,
			"step", step.Name(),
			"error", result.Message,
		)
	}

	completedAt := e.clk.Now()
	tr := ExecutionTransition{
		From:                    ExecutionCompensating,
		To:                      ExecutionCompensated,
		CompensationCompletedAt: &completedAt,
		OrderFrom:               OrderCompensating,
		OrderStatus:             OrderCompensated,
		Event: NewEvent(e.ids.NewID(), exec.OrderID, EventSagaCompensated, OutcomeCompensated, completedAt).
			ForExecution(exec.ID),
		Events: []*Event{
			NewEvent(e.ids.NewID(), exec.OrderID, EventOrderCancelled, OutcomeCompensated, completedAt).
				ForExecution(exec.ID),
		},
	}
	if err := e.gateway.TransitionExecution(ctx, exec.ID, tr); err != nil {
		return err
	}
	exec.Status = ExecutionCompensated
	exec.CompensationCompletedAt = &completedAt

	e.publish(ctx, exec, EventOrderCancelled, "")
	e.metrics.RecordExecution(string(ExecutionCompensated), e.clk.Now().Sub(started))
	e.log.InfoContext(ctx, "saga compensated",
		"order_id", exec.OrderID,
		"execution_id", exec.ID,
	)
	return nil
}

// Resume continues the latest execution of an order from its persisted
// cursor: forward from the next pending step, or reverse from the next
// un-compensated completed step.
func (e *Engine) Resume(ctx context.Context, orderID string) error {
	exec, steps, err := e.gateway.LoadExecutionForResume(ctx, orderID)
	if err != nil {
		return err
	}

	sc, err := e.RebuildContext(ctx, exec, steps)
	if err != nil {
		return err
	}

	select {
	case e.sema <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sema }()

	e.metrics.IncActiveExecutions()
	defer e.metrics.DecActiveExecutions()

	started := e.clk.Now()
	switch exec.Status {
	case ExecutionPending:
		// Crash between StartOrder and Run left the execution unclaimed.
		e.log.InfoContext(ctx, "starting stranded execution",
			"order_id", orderID,
			"execution_id", exec.ID,
		)
		return e.run(ctx, exec, sc)
	case ExecutionInProgress:
		e.log.InfoContext(ctx, "resuming execution",
			"order_id", orderID,
			"execution_id", exec.ID,
			"current_step_index", exec.CurrentStepIndex,
		)
		return e.runForward(ctx, exec, sc, started)
	case ExecutionFailed:
		if exec.FailedStepIndex == nil {
			return fmt.Errorf("execution %s is FAILED without a failed step index", exec.ID)
		}
		return e.compensate(ctx, exec, sc, *exec.FailedStepIndex, started)
	case ExecutionCompensating:
		if exec.FailedStepIndex == nil {
			return fmt.Errorf("execution %s is COMPENSATING without a failed step index", exec.ID)
		}
		e.log.InfoContext(ctx, "resuming compensation",
			"order_id", orderID,
			"execution_id", exec.ID,
		)
		return e.runCompensation(ctx, exec, sc, *exec.FailedStepIndex, started)
	default:
		return fmt.Errorf("execution %s is %s and cannot be resumed", exec.ID, exec.Status)
	}
}

// RecoverInFlight scans for executions left PENDING, IN_PROGRESS, or
// COMPENSATING by a crashed orchestrator and resumes each. Returns the number
// of executions picked up.
func (e *Engine) RecoverInFlight(ctx context.Context) (int, error) {
	active, err := e.gateway.ListActiveExecutions(ctx)
	if err != nil {
		return 0, err
	}
	for _, exec := range active {
		e.log.Info("recovering in-flight execution",
			"order_id", exec.OrderID,
			"execution_id", exec.ID,
			"status", string(exec.Status),
		)
		if err := e.Resume(ctx, exec.OrderID); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			e.log.Error("recovery failed",
				"order_id", exec.OrderID,
				"execution_id", exec.ID,
				"error", err,
			)
		}
	}
	return len(active), nil
}

// RebuildContext reconstructs a saga context from persisted state: the seed
// recorded on ORDER_CREATED plus the result payloads of completed and
// skipped steps.
func (e *Engine) RebuildContext(ctx context.Context, exec *Execution, steps []*StepExecution) (*SagaContext, error) {
	sc := NewContext(exec.OrderID, exec.ID)

	events, err := e.gateway.ListEvents(ctx, exec.OrderID)
	if err != nil {
		return nil, err
	}
	for _, evt := range events {
		if evt.Type != EventOrderCreated {
			continue
		}
		if seed, ok := evt.Details[seedDetailsKey].(map[string]any); ok {
			sc.MergeResult(seed)
		}
		break
	}

	for _, rec := range steps {
		switch rec.Status {
		case StepCompleted:
			sc.MergeResult(rec.ResultPayload)
			sc.MarkCompleted(rec.StepName)
		case StepSkipped:
			sc.MergeResult(rec.ResultPayload)
		}
	}
	return sc, nil
}

func (e *Engine) stepsByIndex(ctx context.Context, executionID string) (map[int]*StepExecution, error) {
	steps, err := e.gateway.ListStepExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}
	out := make(map[int]*StepExecution, len(steps))
	for _, s := range steps {
		out[s.StepIndex] = s
	}
	return out, nil
}

func (e *Engine) publish(ctx context.Context, exec *Execution, eventType EventType, stepName string) {
	if e.bus == nil {
		return
	}
	update := stream.StatusUpdate{
		OrderID:     exec.OrderID,
		ExecutionID: exec.ID,
		Status:      string(exec.Status),
		EventType:   string(eventType),
		StepName:    stepName,
		At:          e.clk.Now(),
	}
	if err := e.bus.Publish(ctx, update); err != nil {
		e.log.DebugContext(ctx, "status publish failed", "order_id", exec.OrderID, "error", err)
	}
}

func resultStatus(result StepResult) string {
	if result.Success {
		return string(StepCompleted)
	}
	return string(StepFailed)
}
