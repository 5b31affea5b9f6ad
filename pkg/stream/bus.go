// Package stream publishes committed saga status transitions to observers.
// Subscribers are observers, not drivers: slow consumers drop to the latest
// update instead of exerting backpressure on the engine.
package stream

import (
	"context"
	"time"
)

// StatusUpdate is one committed transition of a saga execution.
type StatusUpdate struct {
	OrderID     string    `json:"order_id"`
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	EventType   string    `json:"event_type,omitempty"`
	StepName    string    `json:"step_name,omitempty"`
	At          time.Time `json:"at"`
}

// Bus is the per-order publish/subscribe contract.
type Bus interface {
	// Publish fans an update out to the order's subscribers. Fire-and-forget:
	// the database remains the source of truth.
	Publish(ctx context.Context, update StatusUpdate) error

	// Subscribe returns a channel of updates for one order. The channel is
	// closed by Unsubscribe or Close.
	Subscribe(ctx context.Context, orderID string) (<-chan StatusUpdate, error)

	// Unsubscribe removes a subscription created by Subscribe.
	Unsubscribe(orderID string, ch <-chan StatusUpdate)

	// Close shuts the bus down and closes all subscriber channels.
	Close() error

	// Healthy reports whether the bus can deliver updates.
	Healthy() bool
}
