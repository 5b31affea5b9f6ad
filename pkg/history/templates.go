package history

import (
	"fmt"

	"github.com/orderflow/orderflow/pkg/saga"
)

// Canonical step names used by the title templates. These match the names
// the collaborator steps register under.
const (
	StepInventory = "Inventory Reservation"
	StepPayment   = "Payment Processing"
	StepShipping  = "Shipping Arrangement"
)

type template struct {
	title       string
	description string
}

// stepTemplates renders step-scoped events keyed by (event type, step name).
var stepTemplates = map[saga.EventType]map[string]template{
	saga.EventStepStarted: {
		StepInventory: {"Reserving Inventory", "Checking stock and reserving the ordered items."},
		StepPayment:   {"Processing Payment", "Authorizing payment for the order total."},
		StepShipping:  {"Arranging Shipping", "Booking a shipment for the ordered items."},
	},
	saga.EventStepCompleted: {
		StepInventory: {"Inventory Reserved", "All ordered items are reserved."},
		StepPayment:   {"Payment Processed", "Payment was authorized successfully."},
		StepShipping:  {"Shipping Arranged", "A shipment has been booked."},
	},
	saga.EventStepFailed: {
		StepInventory: {"Inventory Failed", "The ordered items could not be reserved."},
		StepPayment:   {"Payment Failed", "Payment could not be authorized."},
		StepShipping:  {"Shipping Failed", "A shipment could not be arranged."},
	},
	saga.EventStepCompensated: {
		StepInventory: {"Inventory Released", "The reserved items were released back to stock."},
		StepPayment:   {"Payment Refunded", "The payment authorization was voided."},
		StepShipping:  {"Shipment Cancelled", "The booked shipment was cancelled."},
	},
}

// lifecycleTemplates renders order-scoped events.
var lifecycleTemplates = map[saga.EventType]template{
	saga.EventOrderCreated:        {"Order Placed", "Your order has been received."},
	saga.EventSagaStarted:         {"Processing Started", "Your order is being processed."},
	saga.EventCompensationStarted: {"Rolling Back", "A step failed; completed work is being reversed."},
	saga.EventSagaCompleted:       {"Processing Finished", "All processing steps completed."},
	saga.EventSagaFailed:          {"Processing Failed", "Your order could not be processed."},
	saga.EventSagaCompensated:     {"Rollback Finished", "All completed work has been reversed."},
	saga.EventRetryInitiated:      {"Retry Started", "Your order is being retried."},
	saga.EventOrderCompleted:      {"Order Completed", "Your order was completed successfully."},
	saga.EventOrderCancelled:      {"Order Cancelled", "Your order was cancelled and charges reversed."},
}

// render produces the title and description for one event. Unknown
// combinations degrade to a generic rendering, never an error.
func render(evt *saga.Event) (string, string) {
	if byStep, ok := stepTemplates[evt.Type]; ok {
		if tpl, ok := byStep[evt.StepName]; ok {
			return tpl.title, enrich(evt, tpl.description)
		}
		// Step event for a step we have no template for.
		return genericStepTitle(evt), enrich(evt, "")
	}
	if tpl, ok := lifecycleTemplates[evt.Type]; ok {
		return tpl.title, enrich(evt, tpl.description)
	}
	return string(evt.Type), enrich(evt, "")
}

func genericStepTitle(evt *saga.Event) string {
	switch evt.Type {
	case saga.EventStepStarted:
		return fmt.Sprintf("%s Started", evt.StepName)
	case saga.EventStepCompleted:
		return fmt.Sprintf("%s Completed", evt.StepName)
	case saga.EventStepFailed:
		return fmt.Sprintf("%s Failed", evt.StepName)
	case saga.EventStepCompensated:
		return fmt.Sprintf("%s Reversed", evt.StepName)
	default:
		return evt.StepName
	}
}

// enrich folds well-known detail and error fields into the description.
func enrich(evt *saga.Event, base string) string {
	out := base
	if evt.Type == saga.EventStepCompleted && evt.StepName == StepPayment {
		if charged, ok := amountDetail(evt.Details, "total_charged"); ok {
			out = fmt.Sprintf("%s Total charged: %s.", out, charged)
		}
	}
	if evt.Type == saga.EventStepCompleted && evt.StepName == StepShipping {
		if tracking, ok := evt.Details["TRACKING_NUMBER"].(string); ok && tracking != "" {
			out = fmt.Sprintf("%s Tracking number: %s.", out, tracking)
		}
	}
	if evt.Error != nil && evt.Error.Message != "" {
		if out != "" {
			out += " "
		}
		out += evt.Error.Message
	}
	return out
}

// amountDetail formats an integer minor-unit amount from event details.
// JSON decoding may have widened the value to float64.
func amountDetail(details map[string]any, key string) (string, bool) {
	raw, ok := details[key]
	if !ok {
		return "", false
	}
	var cents int64
	switch v := raw.(type) {
	case int64:
		cents = v
	case int:
		cents = int64(v)
	case float64:
		cents = int64(v)
	default:
		return "", false
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100), true
}
