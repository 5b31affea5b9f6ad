package saga

import "sync"

// ContextKey is a typed token for saga context entries. Equality is defined
// by name only, so two keys with the same name address the same slot and the
// static type parameter keeps readers and writers in agreement.
type ContextKey[T any] struct {
	name string
}

// Key declares a typed context key with the given name.
func Key[T any](name string) ContextKey[T] {
	return ContextKey[T]{name: name}
}

// Name returns the key's wire name.
func (k ContextKey[T]) Name() string {
	return k.name
}

// SagaContext is the keyed data bag carried through one execution. It also
// records the ordered list of forward-completed step names.
type SagaContext struct {
	mu          sync.RWMutex
	orderID     string
	executionID string
	values      map[string]any
	completed   []string
}

// NewContext creates an empty context bound to an order and execution.
func NewContext(orderID, executionID string) *SagaContext {
	return &SagaContext{
		orderID:     orderID,
		executionID: executionID,
		values:      make(map[string]any),
	}
}

// OrderID returns the order this context belongs to.
func (c *SagaContext) OrderID() string {
	return c.orderID
}

// ExecutionID returns the execution this context belongs to.
func (c *SagaContext) ExecutionID() string {
	return c.executionID
}

// Put stores a typed value under the given key.
func Put[T any](c *SagaContext, key ContextKey[T], value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key.name] = value
}

// Get retrieves a typed value. The second return is false when the key is
// absent or holds a value of a different type.
func Get[T any](c *SagaContext, key ContextKey[T]) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, ok := c.values[key.name]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := raw.(T)
	return typed, ok
}

// PutValue stores a value under a raw string name.
//
// Deprecated: compatibility shim for string-keyed callers; use Put with a
// declared ContextKey instead.
func (c *SagaContext) PutValue(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] = value
}

// Value retrieves a value by raw string name.
//
// Deprecated: compatibility shim for string-keyed callers; use Get with a
// declared ContextKey instead.
func (c *SagaContext) Value(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}

// MergeResult copies step result data into the context.
func (c *SagaContext) MergeResult(data map[string]any) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range data {
		c.values[k] = v
	}
}

// MarkCompleted appends a step name to the completed list, deduplicated.
func (c *SagaContext) MarkCompleted(stepName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range c.completed {
		if name == stepName {
			return
		}
	}
	c.completed = append(c.completed, stepName)
}

// CompletedSteps returns a copy of the completed step names in insert order.
func (c *SagaContext) CompletedSteps() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.completed))
	copy(out, c.completed)
	return out
}

// Snapshot returns a shallow copy of the context values, suitable for
// persisting alongside a step record.
func (c *SagaContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
