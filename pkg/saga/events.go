package saga

import "time"

// EventType identifies a saga lifecycle event. The names are contract and
// are consumed verbatim by the timeline projector.
type EventType string

const (
	EventOrderCreated        EventType = "ORDER_CREATED"
	EventSagaStarted         EventType = "SAGA_STARTED"
	EventStepStarted         EventType = "STEP_STARTED"
	EventStepCompleted       EventType = "STEP_COMPLETED"
	EventStepFailed          EventType = "STEP_FAILED"
	EventCompensationStarted EventType = "COMPENSATION_STARTED"
	EventStepCompensated     EventType = "STEP_COMPENSATED"
	EventSagaCompleted       EventType = "SAGA_COMPLETED"
	EventSagaFailed          EventType = "SAGA_FAILED"
	EventSagaCompensated     EventType = "SAGA_COMPENSATED"
	EventRetryInitiated      EventType = "RETRY_INITIATED"
	EventOrderCompleted      EventType = "ORDER_COMPLETED"
	EventOrderCancelled      EventType = "ORDER_CANCELLED"
)

// Outcome classifies an event for the timeline.
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeFailed      Outcome = "FAILED"
	OutcomeCompensated Outcome = "COMPENSATED"
	OutcomeNeutral     Outcome = "NEUTRAL"
)

// Event is one append-only entry in an order's lifecycle log.
// Events for the same order are totally ordered by (RecordedAt, Seq).
type Event struct {
	ID          string         `json:"id"`
	OrderID     string         `json:"order_id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Type        EventType      `json:"event_type"`
	StepName    string         `json:"step_name,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	Details     map[string]any `json:"details,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`

	// Seq is assigned by the gateway at append time and breaks RecordedAt ties.
	Seq int64 `json:"seq"`
}

// NewEvent creates an event with the given identity and classification.
func NewEvent(id, orderID string, typ EventType, outcome Outcome, recordedAt time.Time) *Event {
	return &Event{
		ID:         id,
		OrderID:    orderID,
		Type:       typ,
		Outcome:    outcome,
		RecordedAt: recordedAt,
	}
}

// ForExecution attaches the execution id and returns the same event.
func (e *Event) ForExecution(executionID string) *Event {
	e.ExecutionID = executionID
	return e
}

// ForStep attaches the step name and returns the same event.
func (e *Event) ForStep(stepName string) *Event {
	e.StepName = stepName
	return e
}

// WithDetails attaches structured details and returns the same event.
func (e *Event) WithDetails(details map[string]any) *Event {
	e.Details = details
	return e
}

// WithError attaches error info and returns the same event.
func (e *Event) WithError(info *ErrorInfo) *Event {
	e.Error = info
	return e
}
