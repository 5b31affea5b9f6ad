package saga

import "time"

// Execution is one attempt to run the saga end-to-end for an order.
// A retry creates a new Execution referencing the same order id.
type Execution struct {
	ID                      string          `json:"id"`
	OrderID                 string          `json:"order_id"`
	CurrentStepIndex        int             `json:"current_step_index"`
	Status                  ExecutionStatus `json:"status"`
	FailedStepIndex         *int            `json:"failed_step_index,omitempty"`
	FailureReason           string          `json:"failure_reason,omitempty"`
	TraceID                 string          `json:"trace_id,omitempty"`
	IsRetry                 bool            `json:"is_retry"`
	StartedAt               time.Time       `json:"started_at"`
	CompletedAt             *time.Time      `json:"completed_at,omitempty"`
	CompensationStartedAt   *time.Time      `json:"compensation_started_at,omitempty"`
	CompensationCompletedAt *time.Time      `json:"compensation_completed_at,omitempty"`

	isNew bool
}

// NewExecution creates an unpersisted Execution in PENDING state.
func NewExecution(id, orderID string, now time.Time) *Execution {
	return &Execution{
		ID:        id,
		OrderID:   orderID,
		Status:    ExecutionPending,
		StartedAt: now,
		isNew:     true,
	}
}

// IsNew reports whether the execution has not yet been persisted.
func (e *Execution) IsNew() bool {
	return e.isNew
}

// MarkPersisted flips the execution into persisted state.
func (e *Execution) MarkPersisted() {
	e.isNew = false
}

// StepExecution records one step invocation (or skip) within an execution.
type StepExecution struct {
	ID            string         `json:"id"`
	ExecutionID   string         `json:"execution_id"`
	StepName      string         `json:"step_name"`
	StepIndex     int            `json:"step_index"`
	Status        StepStatus     `json:"status"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CompensatedAt *time.Time     `json:"compensated_at,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ResultPayload map[string]any `json:"result_payload,omitempty"`
}

// RetryOutcome is the terminal outcome of a retry attempt.
type RetryOutcome string

const (
	RetrySuccess   RetryOutcome = "SUCCESS"
	RetryFailed    RetryOutcome = "FAILED"
	RetryCancelled RetryOutcome = "CANCELLED"
)

// RetryAttempt records one caller-initiated retry of an order's saga.
type RetryAttempt struct {
	ID                  string       `json:"id"`
	OrderID             string       `json:"order_id"`
	OriginalExecutionID string       `json:"original_execution_id"`
	RetryExecutionID    string       `json:"retry_execution_id,omitempty"`
	AttemptNumber       int          `json:"attempt_number"`
	ResumedFromStepName string       `json:"resumed_from_step_name,omitempty"`
	SkippedStepNames    []string     `json:"skipped_step_names,omitempty"`
	Outcome             RetryOutcome `json:"outcome,omitempty"`
	FailureReason       string       `json:"failure_reason,omitempty"`
	InitiatedAt         time.Time    `json:"initiated_at"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
}
