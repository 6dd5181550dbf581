package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus distributes events to subscribers with filtering.
//
// Thread safety: all methods are safe for concurrent use. Publish never
// blocks on a slow subscriber; when a subscriber's buffer is full the event
// is dropped for that subscriber only.
type Bus interface {
	// Publish sends an event to all matching subscribers. It returns an
	// error only when the bus is closed.
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription with optional filtering. The cleanup
	// function must be called to release the subscription. bufferSize 0
	// selects the default.
	Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func())

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// DefaultBus implements Bus with buffered channels and non-blocking sends.
type DefaultBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscription
	nextID      atomic.Uint64
	bufferSize  int
	logger      *slog.Logger
	closed      bool
}

type subscription struct {
	id      uint64
	ch      chan Event
	filter  Filter
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
}

// BusOption configures a DefaultBus.
type BusOption func(*DefaultBus)

// WithBufferSize sets the default per-subscriber buffer. Default 100.
func WithBufferSize(size int) BusOption {
	return func(b *DefaultBus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithBusLogger sets the logger used to report dropped events.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *DefaultBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a DefaultBus.
func NewBus(opts ...BusOption) *DefaultBus {
	b := &DefaultBus{
		subscribers: make(map[uint64]*subscription),
		bufferSize:  100,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends the event to every matching, live subscriber without ever
// blocking on one.
func (b *DefaultBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subscribers {
		select {
		case <-sub.ctx.Done():
			// Subscriber gone; cleanup happens in its own unsubscribe.
			continue
		default:
		}

		if !sub.filter.Matches(event) {
			continue
		}

		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			sub.dropped.Add(1)
			b.logger.Warn("dropped event for slow subscriber",
				"subscriber_id", sub.id,
				"event_type", event.Type,
				"plan_id", event.PlanID,
			)
		}
	}

	return nil
}

// Subscribe registers a subscriber. The returned cleanup must be called.
func (b *DefaultBus) Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bufferSize <= 0 {
		bufferSize = b.bufferSize
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:     b.nextID.Add(1),
		ch:     make(chan Event, bufferSize),
		filter: filter,
		ctx:    subCtx,
		cancel: cancel,
	}
	b.subscribers[sub.id] = sub

	var once sync.Once
	cleanup := func() {
		once.Do(func() { b.unsubscribe(sub.id) })
	}
	return sub.ch, cleanup
}

func (b *DefaultBus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	sub.cancel()
	close(sub.ch)
	delete(b.subscribers, id)
}

// Close shuts down the bus and every subscription. Publish fails afterwards.
func (b *DefaultBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, sub := range b.subscribers {
		sub.cancel()
		close(sub.ch)
		delete(b.subscribers, id)
	}
	return nil
}
