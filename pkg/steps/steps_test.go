package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/orderflow/pkg/clock"
	"github.com/orderflow/orderflow/pkg/saga"
)

func seededContext(t *testing.T) *saga.SagaContext {
	t.Helper()
	sc := saga.NewContext("order-1", "exec-1")
	saga.Put(sc, KeyCustomerID, "cust-1")
	saga.Put(sc, KeyPaymentMethodID, "pm-1")
	sc.PutValue(KeyOrderItems.Name(), []Line{{ProductID: "sku-1", Quantity: 2}})
	sc.PutValue(KeyShippingAddress.Name(), Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"})
	sc.PutValue(KeyTotalAmount.Name(), int64(4999))
	return sc
}

func TestInventoryStepRoundTrip(t *testing.T) {
	inv := NewSimInventory(clock.NewSequenceIDs("inv"))
	step := NewInventoryStep(inv, time.Second)
	sc := seededContext(t)

	res := step.Execute(context.Background(), sc)
	require.True(t, res.Success)
	reservationID, ok := res.Data[KeyReservationID.Name()].(string)
	require.True(t, ok)
	require.NotEmpty(t, reservationID)
	sc.MergeResult(res.Data)

	validity := step.CheckValidity(context.Background(), sc)
	assert.Equal(t, saga.ValidityValid, validity.State)

	comp := step.Compensate(context.Background(), sc)
	require.True(t, comp.Success)

	validity = step.CheckValidity(context.Background(), sc)
	assert.Equal(t, saga.ValidityExpired, validity.State)
}

func TestInventoryStepOutOfStock(t *testing.T) {
	inv := NewSimInventory(clock.NewSequenceIDs("inv"))
	step := NewInventoryStep(inv, time.Second)
	sc := seededContext(t)
	sc.PutValue(KeyOrderItems.Name(), []Line{{ProductID: "OOS-sku", Quantity: 1}})

	res := step.Execute(context.Background(), sc)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, saga.ErrCodeOutOfStock, res.Error.Code)
	assert.True(t, res.Error.Recoverable)
}

func TestInventoryStepIdempotentReserve(t *testing.T) {
	inv := NewSimInventory(clock.NewSequenceIDs("inv"))
	step := NewInventoryStep(inv, time.Second)
	sc := seededContext(t)

	first := step.Execute(context.Background(), sc)
	second := step.Execute(context.Background(), sc)
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, first.Data[KeyReservationID.Name()], second.Data[KeyReservationID.Name()])
}

func TestPaymentStepDeclined(t *testing.T) {
	pay := NewSimPayment(clock.NewSequenceIDs("pay"))
	step := NewPaymentStep(pay, time.Second)
	sc := seededContext(t)
	saga.Put(sc, KeyPaymentMethodID, "DECLINE-card")

	res := step.Execute(context.Background(), sc)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, saga.ErrCodePaymentDeclined, res.Error.Code)
	assert.NotEmpty(t, res.Error.SuggestedAction)
}

func TestPaymentStepVoidInvalidatesAuthorization(t *testing.T) {
	pay := NewSimPayment(clock.NewSequenceIDs("pay"))
	step := NewPaymentStep(pay, time.Second)
	sc := seededContext(t)

	res := step.Execute(context.Background(), sc)
	require.True(t, res.Success)
	assert.Equal(t, int64(4999), res.Data["total_charged"])
	sc.MergeResult(res.Data)

	validity := step.CheckValidity(context.Background(), sc)
	assert.Equal(t, saga.ValidityValid, validity.State)

	comp := step.Compensate(context.Background(), sc)
	require.True(t, comp.Success)

	validity = step.CheckValidity(context.Background(), sc)
	assert.Equal(t, saga.ValidityInvalid, validity.State)
}

func TestPaymentStepMissingSeed(t *testing.T) {
	pay := NewSimPayment(clock.NewSequenceIDs("pay"))
	step := NewPaymentStep(pay, time.Second)
	sc := saga.NewContext("order-1", "exec-1")

	res := step.Execute(context.Background(), sc)
	require.False(t, res.Success)
	assert.Equal(t, saga.ErrCodeUnexpected, res.Error.Code)
	assert.False(t, res.Error.Recoverable)
}

func TestShippingStepRoundTrip(t *testing.T) {
	ship := NewSimShipping(clock.System{}, clock.NewSequenceIDs("ship"))
	step := NewShippingStep(ship, time.Second)
	sc := seededContext(t)

	res := step.Execute(context.Background(), sc)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Data[KeyShipmentID.Name()])
	assert.NotEmpty(t, res.Data[KeyTrackingNumber.Name()])
	assert.NotEmpty(t, res.Data[KeyEstimatedDelivery.Name()])
	sc.MergeResult(res.Data)

	// Shipping is always re-booked on retry.
	validity := step.CheckValidity(context.Background(), sc)
	assert.Equal(t, saga.ValidityInvalid, validity.State)

	comp := step.Compensate(context.Background(), sc)
	require.True(t, comp.Success)
}

func TestShippingStepNoCoverage(t *testing.T) {
	ship := NewSimShipping(clock.System{}, clock.NewSequenceIDs("ship"))
	step := NewShippingStep(ship, time.Second)
	sc := seededContext(t)
	sc.PutValue(KeyShippingAddress.Name(), Address{Line1: "1 Main St", City: "Nowhere", PostalCode: "00000", Country: "US"})

	res := step.Execute(context.Background(), sc)
	require.False(t, res.Success)
	assert.Equal(t, saga.ErrCodeShippingUnavailable, res.Error.Code)
}

func TestDecodeSurvivesJSONRoundTrip(t *testing.T) {
	sc := saga.NewContext("order-1", "exec-1")
	// Values look like this after being persisted and reloaded.
	sc.PutValue(KeyOrderItems.Name(), []any{
		map[string]any{"product_id": "sku-1", "quantity": float64(2)},
	})
	sc.PutValue(KeyShippingAddress.Name(), map[string]any{
		"line1": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "US",
	})
	sc.PutValue(KeyTotalAmount.Name(), float64(4999))

	lines, err := decodeLines(sc)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "sku-1", lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)

	addr, err := decodeAddress(sc)
	require.NoError(t, err)
	assert.Equal(t, "12345", addr.PostalCode)

	amount, err := decodeAmount(sc)
	require.NoError(t, err)
	assert.Equal(t, int64(4999), amount)
}
