// Package history projects the append-only order event log into a
// human-readable timeline and a structured order history. Projection is
// pure: the same event prefix always produces the same timeline.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/orderflow/orderflow/pkg/saga"
)

// TimelineEntry is one rendered row of an order timeline.
type TimelineEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      saga.Outcome    `json:"status"`
	StepName    string          `json:"step_name,omitempty"`
	Details     map[string]any  `json:"details,omitempty"`
	Error       *saga.ErrorInfo `json:"error,omitempty"`
}

// ExecutionSummary condenses one saga execution for the history aggregate.
type ExecutionSummary struct {
	ExecutionID   string               `json:"execution_id"`
	Status        saga.ExecutionStatus `json:"status"`
	IsRetry       bool                 `json:"is_retry"`
	FailedStep    string               `json:"failed_step,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// OrderHistory is the full read model for one order.
type OrderHistory struct {
	OrderID     string             `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	CreatedAt   time.Time          `json:"created_at"`
	FinalStatus saga.OrderStatus   `json:"final_status"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Timeline    []TimelineEntry    `json:"timeline"`
	Executions  []ExecutionSummary `json:"executions"`
}

// TotalAttempts returns the number of executions the order has seen.
func (h *OrderHistory) TotalAttempts() int {
	return len(h.Executions)
}

// RetryCount returns the number of retry executions.
func (h *OrderHistory) RetryCount() int {
	n := 0
	for _, e := range h.Executions {
		if e.IsRetry {
			n++
		}
	}
	return n
}

// WasSuccessful reports whether the order completed.
func (h *OrderHistory) WasSuccessful() bool {
	return h.FinalStatus == saga.OrderCompleted
}

// HadCompensations reports whether any execution ended compensated.
func (h *OrderHistory) HadCompensations() bool {
	for _, e := range h.Executions {
		if e.Status == saga.ExecutionCompensated {
			return true
		}
	}
	return false
}

// OrderNumber derives the display order number: ORD-YYYY-XXXXXXXX with the
// 4-digit UTC year of createdAt and the first 8 hex characters of the id.
func OrderNumber(orderID string, createdAt time.Time) string {
	compact := strings.ReplaceAll(orderID, "-", "")
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return fmt.Sprintf("ORD-%04d-%s", createdAt.UTC().Year(), strings.ToUpper(compact))
}

// BuildTimeline folds an ordered event slice into timeline entries.
func BuildTimeline(events []*saga.Event) []TimelineEntry {
	timeline := make([]TimelineEntry, 0, len(events))
	for _, evt := range events {
		title, description := render(evt)
		timeline = append(timeline, TimelineEntry{
			Timestamp:   evt.RecordedAt,
			Title:       title,
			Description: description,
			Status:      evt.Outcome,
			StepName:    evt.StepName,
			Details:     evt.Details,
			Error:       evt.Error,
		})
	}
	return timeline
}

// BuildHistory assembles the full order history from persisted state.
func BuildHistory(order *saga.Order, executions []*saga.Execution, registry *saga.Registry, events []*saga.Event) *OrderHistory {
	summaries := make([]ExecutionSummary, 0, len(executions))
	for _, exec := range executions {
		summary := ExecutionSummary{
			ExecutionID:   exec.ID,
			Status:        exec.Status,
			IsRetry:       exec.IsRetry,
			FailureReason: exec.FailureReason,
			StartedAt:     exec.StartedAt,
			CompletedAt:   exec.CompletedAt,
		}
		if exec.FailedStepIndex != nil && registry != nil {
			if step, err := registry.Step(*exec.FailedStepIndex); err == nil {
				summary.FailedStep = step.Name()
			}
		}
		summaries = append(summaries, summary)
	}

	var completedAt *time.Time
	if order.Status == saga.OrderCompleted {
		for _, exec := range executions {
			if exec.Status == saga.ExecutionCompleted && exec.CompletedAt != nil {
				completedAt = exec.CompletedAt
			}
		}
	}

	return &OrderHistory{
		OrderID:     order.ID,
		OrderNumber: OrderNumber(order.ID, order.CreatedAt),
		CreatedAt:   order.CreatedAt,
		FinalStatus: order.Status,
		CompletedAt: completedAt,
		Timeline:    BuildTimeline(events),
		Executions:  summaries,
	}
}
