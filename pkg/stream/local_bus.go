package stream

import (
	"context"
	"fmt"
	"sync"
)

// LocalBus is an in-memory Bus implementation using Go channels.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan StatusUpdate]struct{}
	bufferSize  int
	closed      bool
}

// NewLocalBus creates a new in-memory Bus.
func NewLocalBus(bufferSize int) *LocalBus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &LocalBus{
		subscribers: make(map[string]map[chan StatusUpdate]struct{}),
		bufferSize:  bufferSize,
	}
}

// Publish sends an update to every subscriber of the order.
func (b *LocalBus) Publish(_ context.Context, update StatusUpdate) error {
	if update.OrderID == "" {
		return fmt.Errorf("status update order_id cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("status bus is closed")
	}

	for ch := range b.subscribers[update.OrderID] {
		// Non-blocking send; drop oldest if buffer full.
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
	return nil
}

// Subscribe creates a buffered channel receiving updates for the order.
func (b *LocalBus) Subscribe(_ context.Context, orderID string) (<-chan StatusUpdate, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order_id cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("status bus is closed")
	}

	ch := make(chan StatusUpdate, b.bufferSize)
	if b.subscribers[orderID] == nil {
		b.subscribers[orderID] = make(map[chan StatusUpdate]struct{})
	}
	b.subscribers[orderID][ch] = struct{}{}
	return ch, nil
}

// Unsubscribe removes the subscription and closes the channel.
func (b *LocalBus) Unsubscribe(orderID string, ch <-chan StatusUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers[orderID] {
		if sub == ch {
			close(sub)
			delete(b.subscribers[orderID], sub)
			break
		}
	}
	if len(b.subscribers[orderID]) == 0 {
		delete(b.subscribers, orderID)
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for orderID, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, orderID)
	}
	return nil
}

// Healthy returns true if the bus is not closed.
func (b *LocalBus) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
