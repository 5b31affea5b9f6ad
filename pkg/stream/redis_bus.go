package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a Redis Pub/Sub-backed Bus. It lets observers on other
// replicas follow transitions committed by this one.
type RedisBus struct {
	client        redis.UniversalClient
	channelPrefix string
	bufferSize    int

	mu          sync.RWMutex
	subscribers map[chan StatusUpdate]*redisSubscription
	closed      bool
}

type redisSubscription struct {
	orderID string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
}

// NewRedisBus creates a Redis-backed Bus.
func NewRedisBus(client redis.UniversalClient, channelPrefix string, bufferSize int) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = "orderflow:status:"
	}
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &RedisBus{
		client:        client,
		channelPrefix: channelPrefix,
		bufferSize:    bufferSize,
		subscribers:   make(map[chan StatusUpdate]*redisSubscription),
	}
}

// Publish sends an update via Redis Pub/Sub.
func (b *RedisBus) Publish(ctx context.Context, update StatusUpdate) error {
	if update.OrderID == "" {
		return fmt.Errorf("status update order_id cannot be empty")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("status bus is closed")
	}
	b.mu.RUnlock()

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	channel := b.channelPrefix + update.OrderID
	return b.client.Publish(ctx, channel, data).Err()
}

// Subscribe creates a channel that receives updates for the order via Redis.
func (b *RedisBus) Subscribe(ctx context.Context, orderID string) (<-chan StatusUpdate, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order_id cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("status bus is closed")
	}

	channel := b.channelPrefix + orderID
	pubsub := b.client.Subscribe(ctx, channel)

	ch := make(chan StatusUpdate, b.bufferSize)
	subCtx, cancel := context.WithCancel(context.Background())

	b.subscribers[ch] = &redisSubscription{
		orderID: orderID,
		pubsub:  pubsub,
		cancel:  cancel,
	}

	go b.forward(subCtx, pubsub, ch)

	return ch, nil
}

func (b *RedisBus) forward(ctx context.Context, pubsub *redis.PubSub, ch chan StatusUpdate) {
	defer func() {
		_ = pubsub.Close()
	}()

	redisCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-redisCh:
			if !ok {
				return
			}
			var update StatusUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
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
	}
}

// Unsubscribe removes the Redis subscription and closes the channel.
func (b *RedisBus) Unsubscribe(_ string, ch <-chan StatusUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub, state := range b.subscribers {
		if sub == ch {
			state.cancel()
			close(sub)
			delete(b.subscribers, sub)
			return
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for ch, state := range b.subscribers {
		state.cancel()
		close(ch)
		delete(b.subscribers, ch)
	}
	return nil
}

// Healthy reports whether Redis answers a ping.
func (b *RedisBus) Healthy() bool {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return false
	}
	b.mu.RUnlock()
	return b.client.Ping(context.Background()).Err() == nil
}
