package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orderflow/orderflow/pkg/logger"
)

// Default retry policy values; both are injectable through RetryPolicy.
const (
	DefaultMaxAttempts   = 3
	DefaultRetryCooldown = 30 * time.Second
)

// RetryPolicy bounds caller-initiated retries. MaxAttempts counts the
// original execution, so an order gets MaxAttempts-1 retries.
type RetryPolicy struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// EligibilityStatus is the closed enumeration of retry eligibility answers.
type EligibilityStatus string

const (
	Eligible           EligibilityStatus = "ELIGIBLE"
	Ineligible         EligibilityStatus = "INELIGIBLE"
	InCooldown         EligibilityStatus = "IN_COOLDOWN"
	MaxRetriesExceeded EligibilityStatus = "MAX_RETRIES_EXCEEDED"
	RetryInProgress    EligibilityStatus = "RETRY_IN_PROGRESS"
)

// BlockerType classifies why a retry is blocked.
type BlockerType string

const (
	BlockerMaxRetries      BlockerType = "MAX_RETRIES_EXCEEDED"
	BlockerCooldown        BlockerType = "IN_COOLDOWN"
	BlockerRetryInProgress BlockerType = "RETRY_IN_PROGRESS"
	BlockerFraudDetected   BlockerType = "FRAUD_DETECTED"
	BlockerItemUnavailable BlockerType = "ITEM_UNAVAILABLE"
	BlockerOther           BlockerType = "OTHER"
)

// Blocker is one obstacle between an order and a retry.
type Blocker struct {
	Type       BlockerType `json:"type"`
	Message    string      `json:"message,omitempty"`
	Resolvable bool        `json:"resolvable"`
}

// RequiredAction is a caller-side prerequisite for retrying.
type RequiredAction struct {
	Action    string `json:"action"`
	Completed bool   `json:"completed"`
}

// Eligibility is the retry eligibility answer for an order.
type Eligibility struct {
	Status            EligibilityStatus `json:"status"`
	AttemptsRemaining int               `json:"attempts_remaining"`
	NextAvailableAt   *time.Time        `json:"next_available_at,omitempty"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	Blockers          []Blocker         `json:"blockers,omitempty"`
}

// RetryRequest carries the caller's acknowledgements for a retry.
type RetryRequest struct {
	AcknowledgedPriceChanges bool
	CompletedActions         []string
}

// RetryResult is the outcome of a granted retry.
type RetryResult struct {
	Attempt   *RetryAttempt
	Execution *Execution
}

// BlockerSource reports external blockers, required actions, and pending
// price changes for an order. The default source reports none.
type BlockerSource interface {
	Blockers(ctx context.Context, orderID string) ([]Blocker, error)
	RequiredActions(ctx context.Context, orderID string) ([]RequiredAction, error)
	PendingPriceChange(ctx context.Context, orderID string) (bool, error)
}

type nopBlockerSource struct{}

func (nopBlockerSource) Blockers(context.Context, string) ([]Blocker, error) { return nil, nil }
func (nopBlockerSource) RequiredActions(context.Context, string) ([]RequiredAction, error) {
	return nil, nil
}
func (nopBlockerSource) PendingPriceChange(context.Context, string) (bool, error) {
	return false, nil
}

// CoordinatorOption customizes Coordinator initialization.
type CoordinatorOption func(*Coordinator)

// WithBlockerSource wires an external blocker source into the coordinator.
func WithBlockerSource(src BlockerSource) CoordinatorOption {
	return func(c *Coordinator) {
		if src != nil {
			c.blockers = src
		}
	}
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(log logger.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// Coordinator evaluates retry eligibility and constructs retry executions
// that resume from the failed step, skipping still-valid completed steps.
type Coordinator struct {
	engine   *Engine
	policy   RetryPolicy
	blockers BlockerSource
	log      logger.Logger
}

// NewCoordinator creates a retry coordinator over the given engine.
func NewCoordinator(engine *Engine, policy RetryPolicy, options ...CoordinatorOption) (*Coordinator, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Cooldown <= 0 {
		policy.Cooldown = DefaultRetryCooldown
	}
	c := &Coordinator{
		engine:   engine,
		policy:   policy,
		blockers: nopBlockerSource{},
		log:      logger.Global(),
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c, nil
}

// Evaluate answers whether the order may be retried right now. The latest
// execution must be FAILED or COMPENSATED; cooldown, the attempt bound,
// concurrent executions, external blockers, required actions, and pending
// price changes are all checked. CANCELLED attempts never count against the
// attempt bound.
func (c *Coordinator) Evaluate(ctx context.Context, orderID string, req RetryRequest) (Eligibility, error) {
	gw := c.engine.Gateway()

	execs, err := gw.ListExecutions(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	if len(execs) == 0 {
		return Eligibility{}, fmt.Errorf("order %s has no executions: %w", orderID, ErrNotFound)
	}

	for _, exec := range execs {
		if exec.Status.IsActive() {
			return Eligibility{
				Status: RetryInProgress,
				Reason: "an execution is still running for this order",
				Blockers: []Blocker{{
					Type:       BlockerRetryInProgress,
					Message:    "an execution is still running for this order",
					Resolvable: true,
				}},
			}, nil
		}
	}

	latest := execs[len(execs)-1]
	if latest.Status != ExecutionFailed && latest.Status != ExecutionCompensated {
		return Eligibility{
			Status: Ineligible,
			Reason: fmt.Sprintf("latest execution is %s", latest.Status),
			Blockers: []Blocker{{
				Type:       BlockerOther,
				Message:    fmt.Sprintf("latest execution is %s", latest.Status),
				Resolvable: false,
			}},
		}, nil
	}

	attempts, err := gw.ListRetryAttempts(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	used := 0
	var lastCompleted *time.Time
	for _, attempt := range attempts {
		if attempt.Outcome == RetryCancelled {
			continue
		}
		used++
		if attempt.CompletedAt != nil {
			lastCompleted = attempt.CompletedAt
		}
	}
	// The original execution counts as the first attempt, so MaxAttempts
	// bounds the total including it.
	remaining := c.policy.MaxAttempts - used - 1
	if remaining <= 0 {
		return Eligibility{
			Status: MaxRetriesExceeded,
			Reason: fmt.Sprintf("attempt limit of %d reached", c.policy.MaxAttempts),
			Blockers: []Blocker{{
				Type:       BlockerMaxRetries,
				Message:    fmt.Sprintf("attempt limit of %d reached", c.policy.MaxAttempts),
				Resolvable: false,
			}},
		}, nil
	}

	now := c.engine.clk.Now()
	reference := latest.CompletedAt
	if latest.CompensationCompletedAt != nil {
		reference = latest.CompensationCompletedAt
	}
	if lastCompleted != nil && (reference == nil || lastCompleted.After(*reference)) {
		reference = lastCompleted
	}
	if reference != nil {
		next := reference.Add(c.policy.Cooldown)
		if now.Before(next) {
			return Eligibility{
				Status:            InCooldown,
				AttemptsRemaining: remaining,
				NextAvailableAt:   &next,
				Reason:            "retry cooldown has not elapsed",
			}, nil
		}
	}

	blockers, err := c.blockers.Blockers(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	if len(blockers) > 0 {
		return Eligibility{
			Status:            Ineligible,
			AttemptsRemaining: remaining,
			Reason:            "external blockers are unresolved",
			Blockers:          blockers,
		}, nil
	}

	actions, err := c.blockers.RequiredActions(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	completed := make(map[string]bool, len(req.CompletedActions))
	for _, a := range req.CompletedActions {
		completed[a] = true
	}
	for _, action := range actions {
		if !action.Completed && !completed[action.Action] {
			return Eligibility{
				Status:            Ineligible,
				AttemptsRemaining: remaining,
				Reason:            fmt.Sprintf("required action %s is not completed", action.Action),
				Blockers: []Blocker{{
					Type:       BlockerOther,
					Message:    fmt.Sprintf("required action %s is not completed", action.Action),
					Resolvable: true,
				}},
			}, nil
		}
	}

	pending, err := c.blockers.PendingPriceChange(ctx, orderID)
	if err != nil {
		return Eligibility{}, err
	}
	if pending && !req.AcknowledgedPriceChanges {
		return Eligibility{
			Status:            Ineligible,
			AttemptsRemaining: remaining,
			Reason:            "a pending price change must be acknowledged",
			Blockers: []Blocker{{
				Type:       BlockerOther,
				Message:    "a pending price change must be acknowledged",
				Resolvable: true,
			}},
		}, nil
	}

	var expires *time.Time
	if reference != nil {
		// The eligibility window is advisory; a later Evaluate re-checks.
		exp := reference.Add(24 * time.Hour)
		expires = &exp
	}
	return Eligibility{
		Status:            Eligible,
		AttemptsRemaining: remaining,
		ExpiresAt:         expires,
	}, nil
}

// Retry evaluates eligibility and, when granted, constructs and runs a retry
// execution. Previously completed steps whose effect is still valid are
// copied as SKIPPED; everything else re-executes in order. Returns
// ErrRetryNotEligible (with the eligibility answer) when blocked.
func (c *Coordinator) Retry(ctx context.Context, orderID string, req RetryRequest) (*RetryResult, Eligibility, error) {
	eligibility, err := c.Evaluate(ctx, orderID, req)
	if err != nil {
		return nil, Eligibility{}, err
	}
	if eligibility.Status != Eligible {
		return nil, eligibility, ErrRetryNotEligible
	}

	retryCtx, span := startSpan(ctx, spanRetry, attribute.String("order.id", orderID))
	result, err := c.retry(retryCtx, orderID)
	endSpan(span, err)
	if err != nil {
		return nil, eligibility, err
	}
	return result, eligibility, nil
}

func (c *Coordinator) retry(ctx context.Context, orderID string) (*RetryResult, error) {
	eng := c.engine
	gw := eng.Gateway()

	original, priorSteps, err := gw.LoadExecutionForResume(ctx, orderID)
	if err != nil {
		return nil, err
	}

	attempts, err := gw.ListRetryAttempts(ctx, orderID)
	if err != nil {
		return nil, err
	}
	attemptNumber := 1
	if len(attempts) > 0 {
		attemptNumber = attempts[len(attempts)-1].AttemptNumber + 1
	}

	now := eng.clk.Now()
	attempt := &RetryAttempt{
		ID:                  eng.ids.NewID(),
		OrderID:             orderID,
		OriginalExecutionID: original.ID,
		AttemptNumber:       attemptNumber,
		InitiatedAt:         now,
	}
	if err := gw.InsertRetryAttempt(ctx, attempt); err != nil {
		if errors.Is(err, ErrDuplicateAttempt) {
			// Another worker won the race for this attempt number.
			return nil, fmt.Errorf("retry already in flight: %w", ErrVersionConflict)
		}
		return nil, err
	}

	exec := NewExecution(eng.ids.NewID(), orderID, eng.clk.Now())
	exec.IsRetry = true
	if err := gw.InsertExecution(ctx, exec); err != nil {
		cancelErr := gw.CompleteRetryAttempt(ctx, attempt.ID, RetryCancelled, err.Error(), eng.clk.Now())
		if cancelErr != nil {
			c.log.Error("failed to cancel retry attempt", "order_id", orderID, "error", cancelErr)
		}
		return nil, err
	}
	if err := gw.SetRetryExecution(ctx, attempt.ID, exec.ID); err != nil {
		return nil, err
	}
	attempt.RetryExecutionID = exec.ID

	sc, err := eng.RebuildContext(ctx, original, priorSteps)
	if err != nil {
		return nil, err
	}
	// Rebind the rebuilt context to the retry execution.
	retrySC := NewContext(orderID, exec.ID)
	retrySC.MergeResult(sc.Snapshot())

	skipped, resumedFrom, err := c.planSteps(ctx, exec, retrySC, priorSteps)
	if err != nil {
		return nil, err
	}
	attempt.SkippedStepNames = skipped
	attempt.ResumedFromStepName = resumedFrom

	initiated := NewEvent(eng.ids.NewID(), orderID, EventRetryInitiated, OutcomeNeutral, eng.clk.Now()).
		ForExecution(exec.ID).
		WithDetails(map[string]any{
			"attempt_number":         attemptNumber,
			"skipped_step_names":     skipped,
			"resumed_from_step_name": resumedFrom,
		})
	if err := gw.AppendEvent(ctx, initiated); err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "retry initiated",
		"order_id", orderID,
		"execution_id", exec.ID,
		"attempt_number", attemptNumber,
		"skipped_steps", len(skipped),
		"resumed_from", resumedFrom,
	)

	runErr := eng.Run(ctx, exec, retrySC)
	outcome := RetrySuccess
	reason := ""
	switch {
	case runErr == nil && exec.Status == ExecutionCompleted:
		outcome = RetrySuccess
	case errors.Is(runErr, context.Canceled):
		outcome = RetryCancelled
		reason = runErr.Error()
	default:
		outcome = RetryFailed
		if runErr != nil {
			reason = runErr.Error()
		} else {
			reason = exec.FailureReason
		}
	}
	if err := gw.CompleteRetryAttempt(ctx, attempt.ID, outcome, reason, eng.clk.Now()); err != nil {
		return nil, err
	}
	attempt.Outcome = outcome
	attempt.FailureReason = reason
	eng.metrics.RecordRetryAttempt(string(outcome))

	if runErr != nil {
		return nil, runErr
	}
	return &RetryResult{Attempt: attempt, Execution: exec}, nil
}

// planSteps probes each forward-completed step of the original execution and
// copies still-valid ones into the retry execution as SKIPPED rows. Skipping
// happens only on an explicit valid answer; the engine never silently
// assumes a previous result is still good.
func (c *Coordinator) planSteps(ctx context.Context, exec *Execution, sc *SagaContext, priorSteps []*StepExecution) (skipped []string, resumedFrom string, err error) {
	eng := c.engine
	gw := eng.Gateway()

	for _, prior := range priorSteps {
		// Compensated steps were forward-completed before being reversed, and
		// skipped rows carry an effect adopted from an earlier execution, so
		// both are probed like completed ones; the collaborator answers
		// whether the effect survived.
		completed := prior.Status == StepCompleted || prior.Status == StepCompensated ||
			prior.Status == StepSkipped
		if !completed {
			if resumedFrom == "" {
				resumedFrom = prior.StepName
			}
			continue
		}

		step, stepErr := eng.registry.Step(prior.StepIndex)
		if stepErr != nil {
			return nil, "", stepErr
		}

		validity := eng.runtime.CheckValidity(ctx, step, sc)
		if validity.State != ValidityValid {
			c.log.DebugContext(ctx, "step requires re-execution",
				"order_id", exec.OrderID,
				"step", prior.StepName,
				"validity", string(validity.State),
				"reason", validity.Reason,
			)
			if resumedFrom == "" {
				resumedFrom = prior.StepName
			}
			continue
		}

		now := eng.clk.Now()
		row := &StepExecution{
			ID:            eng.ids.NewID(),
			ExecutionID:   exec.ID,
			StepName:      prior.StepName,
			StepIndex:     prior.StepIndex,
			Status:        StepSkipped,
			StartedAt:     &now,
			CompletedAt:   &now,
			ResultPayload: prior.ResultPayload,
		}
		if err := gw.InsertStepExecution(ctx, row); err != nil {
			return nil, "", err
		}
		sc.MergeResult(prior.ResultPayload)
		skipped = append(skipped, prior.StepName)
	}
	return skipped, resumedFrom, nil
}
