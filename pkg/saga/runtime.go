package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orderflow/orderflow/pkg/logger"
)

// DefaultStepTimeout is applied when a step declares no timeout of its own.
const DefaultStepTimeout = 30 * time.Second

// Runtime invokes a single forward step or compensation and normalizes any
// abnormal termination into a structured result. It never touches persistence.
type Runtime struct {
	defaultTimeout time.Duration
	log            logger.Logger
}

// NewRuntime creates a Runtime with the given default step timeout.
func NewRuntime(defaultTimeout time.Duration, log logger.Logger) *Runtime {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultStepTimeout
	}
	if log == nil {
		log = logger.Global()
	}
	return &Runtime{defaultTimeout: defaultTimeout, log: log}
}

// ExecuteStep runs the forward action with a per-step deadline and returns
// the normalized result plus the observed duration. A panic becomes
// UNEXPECTED_ERROR (not recoverable); a deadline or cancellation becomes
// SERVICE_UNAVAILABLE (recoverable). The status decision is made only after
// the step call has returned, so a cancelled step is never raced.
func (r *Runtime) ExecuteStep(ctx context.Context, step StepDefinition, sc *SagaContext) (result StepResult, elapsed time.Duration) {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout(step))
	defer cancel()

	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if rec := recover(); rec != nil {
			r.log.Error("step panicked",
				"step", step.Name(),
				"order_id", sc.OrderID(),
				"panic", rec,
			)
			result = Fail(NewErrorInfo(ErrCodeUnexpected, fmt.Sprintf("step %s panicked: %v", step.Name(), rec), false))
		}
	}()

	result = step.Execute(stepCtx, sc)
	if !result.Success && result.Error == nil {
		result.Error = NewErrorInfo(ErrCodeStepFailed, fmt.Sprintf("step %s failed", step.Name()), true)
	}
	if result.Success {
		if err := stepCtx.Err(); err != nil {
			// The step returned success but its deadline already fired; the
			// outcome is unknown, so treat it as unavailable.
			result = Fail(unavailableError(step.Name(), err))
		}
		return result, time.Since(start)
	}
	if err := stepCtx.Err(); err != nil && result.Error.Code == ErrCodeStepFailed {
		result.Error = unavailableError(step.Name(), err)
	}
	return result, time.Since(start)
}

// CompensateStep runs the compensation with a per-step deadline. A panic or
// expired deadline is normalized into a failed CompensationResult.
func (r *Runtime) CompensateStep(ctx context.Context, step StepDefinition, sc *SagaContext) (result CompensationResult, elapsed time.Duration) {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout(step))
	defer cancel()

	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if rec := recover(); rec != nil {
			r.log.Error("compensation panicked",
				"step", step.Name(),
				"order_id", sc.OrderID(),
				"panic", rec,
			)
			result = CompensationResult{
				Success: false,
				Message: fmt.Sprintf("compensation for %s panicked: %v", step.Name(), rec),
			}
		}
	}()

	result = step.Compensate(stepCtx, sc)
	if result.Success {
		if err := stepCtx.Err(); err != nil {
			result = CompensationResult{
				Success: false,
				Message: fmt.Sprintf("compensation for %s interrupted: %v", step.Name(), err),
			}
		}
	}
	return result, time.Since(start)
}

// CheckValidity probes a completed step's external effect. Panics and errors
// degrade to invalid, which forces re-execution and is always safe.
func (r *Runtime) CheckValidity(ctx context.Context, step StepDefinition, sc *SagaContext) (validity StepValidity) {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout(step))
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("validity check panicked",
				"step", step.Name(),
				"order_id", sc.OrderID(),
				"panic", rec,
			)
			validity = InvalidRequiresReExecution(fmt.Sprintf("validity check panicked: %v", rec))
		}
	}()

	return step.CheckValidity(stepCtx, sc)
}

func (r *Runtime) stepTimeout(step StepDefinition) time.Duration {
	if d := step.Timeout(); d > 0 {
		return d
	}
	return r.defaultTimeout
}

func unavailableError(stepName string, cause error) *ErrorInfo {
	msg := fmt.Sprintf("step %s did not complete: %v", stepName, cause)
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = fmt.Sprintf("step %s timed out", stepName)
	}
	return NewErrorInfo(ErrCodeServiceUnavailable, msg, true)
}
