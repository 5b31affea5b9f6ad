package steps

import (
	"encoding/json"
	"fmt"

	"github.com/orderflow/orderflow/pkg/saga"
)

// decodeLines reads the order lines seed. The value is typed when seeded in
// process and generic after a persistence round trip, so it is normalized
// through JSON either way.
func decodeLines(sc *saga.SagaContext) ([]Line, error) {
	raw, ok := saga.Get(sc, KeyOrderItems)
	if !ok {
		return nil, fmt.Errorf("context is missing %s", KeyOrderItems.Name())
	}
	var lines []Line
	if err := reshape(raw, &lines); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyOrderItems.Name(), err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("context %s is empty", KeyOrderItems.Name())
	}
	return lines, nil
}

// decodeAddress reads the shipping address seed.
func decodeAddress(sc *saga.SagaContext) (Address, error) {
	raw, ok := saga.Get(sc, KeyShippingAddress)
	if !ok {
		return Address{}, fmt.Errorf("context is missing %s", KeyShippingAddress.Name())
	}
	var addr Address
	if err := reshape(raw, &addr); err != nil {
		return Address{}, fmt.Errorf("decode %s: %w", KeyShippingAddress.Name(), err)
	}
	return addr, nil
}

// decodeAmount reads the order total in minor units.
func decodeAmount(sc *saga.SagaContext) (int64, error) {
	raw, ok := saga.Get(sc, KeyTotalAmount)
	if !ok {
		return 0, fmt.Errorf("context is missing %s", KeyTotalAmount.Name())
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("decode %s: %w", KeyTotalAmount.Name(), err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("context %s has unexpected type %T", KeyTotalAmount.Name(), raw)
	}
}

func reshape(from any, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, to)
}
