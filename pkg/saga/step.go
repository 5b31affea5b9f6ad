package saga

import (
	"context"
	"time"
)

// StepResult is the normalized outcome of a forward step invocation.
type StepResult struct {
	Success bool
	Data    map[string]any
	Error   *ErrorInfo
}

// Succeed builds a successful StepResult carrying data for the context.
func Succeed(data map[string]any) StepResult {
	return StepResult{Success: true, Data: data}
}

// Fail builds a failed StepResult with the given error info.
func Fail(info *ErrorInfo) StepResult {
	return StepResult{Success: false, Error: info}
}

// CompensationResult is the outcome of a compensation invocation.
type CompensationResult struct {
	Success bool
	Message string
}

// ValidityState classifies a previously completed step's external effect
// at retry time.
type ValidityState string

const (
	// ValidityValid means the effect is still usable and the step may be skipped.
	ValidityValid ValidityState = "VALID"
	// ValidityExpired means the effect lapsed but the step can simply re-execute.
	ValidityExpired ValidityState = "EXPIRED_REFRESHABLE"
	// ValidityInvalid means the effect is unusable and the step must re-execute.
	ValidityInvalid ValidityState = "INVALID_REQUIRES_RE_EXECUTION"
)

// StepValidity is the result of a validity probe.
type StepValidity struct {
	State  ValidityState
	Reason string
}

// Valid reports the step effect as still usable.
func Valid() StepValidity {
	return StepValidity{State: ValidityValid}
}

// ExpiredButRefreshable reports a lapsed effect that a re-execution refreshes.
func ExpiredButRefreshable(reason string) StepValidity {
	return StepValidity{State: ValidityExpired, Reason: reason}
}

// InvalidRequiresReExecution reports an unusable effect.
func InvalidRequiresReExecution(reason string) StepValidity {
	return StepValidity{State: ValidityInvalid, Reason: reason}
}

// StepDefinition is the contract every domain step implements. Execute and
// Compensate are invoked at-least-once across crash/retry boundaries, so the
// collaborator behind them must be idempotent for the same context data.
type StepDefinition interface {
	// Name is the stable step identifier used in persistence and events.
	Name() string

	// Execute performs the forward action.
	Execute(ctx context.Context, sc *SagaContext) StepResult

	// Compensate undoes a previously successful forward action using data the
	// forward action placed in the context.
	Compensate(ctx context.Context, sc *SagaContext) CompensationResult

	// CheckValidity decides during retry whether the previously completed
	// step's effect is still usable.
	CheckValidity(ctx context.Context, sc *SagaContext) StepValidity

	// Timeout is the per-step deadline; zero means the runtime default.
	Timeout() time.Duration
}

// FuncStep adapts plain functions to the StepDefinition contract. Useful in
// tests and for steps without their own state.
type FuncStep struct {
	name       string
	timeout    time.Duration
	execute    func(ctx context.Context, sc *SagaContext) StepResult
	compensate func(ctx context.Context, sc *SagaContext) CompensationResult
	validity   func(ctx context.Context, sc *SagaContext) StepValidity
}

// StepOption customizes a FuncStep.
type StepOption func(*FuncStep)

// WithCompensation sets the compensation function.
func WithCompensation(fn func(ctx context.Context, sc *SagaContext) CompensationResult) StepOption {
	return func(s *FuncStep) {
		s.compensate = fn
	}
}

// WithValidityCheck sets the validity probe used during retry.
func WithValidityCheck(fn func(ctx context.Context, sc *SagaContext) StepValidity) StepOption {
	return func(s *FuncStep) {
		s.validity = fn
	}
}

// WithStepTimeout sets a per-step timeout override.
func WithStepTimeout(d time.Duration) StepOption {
	return func(s *FuncStep) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewFuncStep creates a FuncStep with the given name and forward function.
// Without options, compensation is a no-op success and validity is always
// invalid, forcing re-execution on retry.
func NewFuncStep(name string, execute func(ctx context.Context, sc *SagaContext) StepResult, opts ...StepOption) *FuncStep {
	s := &FuncStep{
		name:    name,
		execute: execute,
		compensate: func(context.Context, *SagaContext) CompensationResult {
			return CompensationResult{Success: true}
		},
		validity: func(context.Context, *SagaContext) StepValidity {
			return InvalidRequiresReExecution("no validity check defined")
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Name returns the step name.
func (s *FuncStep) Name() string { return s.name }

// Execute runs the forward function.
func (s *FuncStep) Execute(ctx context.Context, sc *SagaContext) StepResult {
	return s.execute(ctx, sc)
}

// Compensate runs the compensation function.
func (s *FuncStep) Compensate(ctx context.Context, sc *SagaContext) CompensationResult {
	return s.compensate(ctx, sc)
}

// CheckValidity runs the validity probe.
func (s *FuncStep) CheckValidity(ctx context.Context, sc *SagaContext) StepValidity {
	return s.validity(ctx, sc)
}

// Timeout returns the per-step timeout override.
func (s *FuncStep) Timeout() time.Duration { return s.timeout }
