package steps

import "github.com/orderflow/orderflow/pkg/saga"

// Context keys the forward steps read and write. The output keys are the
// published step contract; the seed keys are written once when an order is
// submitted.
var (
	// Seed keys.
	KeyOrderItems      = saga.Key[any]("ORDER_ITEMS")
	KeyPaymentMethodID = saga.Key[string]("PAYMENT_METHOD_ID")
	KeyShippingAddress = saga.Key[any]("SHIPPING_ADDRESS")
	KeyCustomerID      = saga.Key[string]("CUSTOMER_ID")
	KeyTotalAmount     = saga.Key[any]("TOTAL_AMOUNT")

	// Output keys.
	KeyReservationID     = saga.Key[string]("RESERVATION_ID")
	KeyAuthorizationID   = saga.Key[string]("AUTHORIZATION_ID")
	KeyShipmentID        = saga.Key[string]("SHIPMENT_ID")
	KeyTrackingNumber    = saga.Key[string]("TRACKING_NUMBER")
	KeyEstimatedDelivery = saga.Key[string]("ESTIMATED_DELIVERY")
)
