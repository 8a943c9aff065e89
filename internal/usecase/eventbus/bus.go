package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"pintrainer/internal/domain"
)

// DefaultQueueSize is the per-subscriber buffer used by New.
const DefaultQueueSize = 64

type delivery struct {
	ctx   context.Context
	event domain.Event
}

type subscription struct {
	id        uint64
	eventType domain.EventType // "" receives every event
	handler   domain.EventHandler
	queue     chan delivery
}

// Bus is an in-process, goroutine-safe event bus. Each subscriber has its own
// queue and worker, so a subscriber sees events in publish order. A full
// queue drops the event for that subscriber only.
type Bus struct {
	mu        sync.RWMutex
	subs      []*subscription
	nextID    atomic.Uint64
	dropped   atomic.Uint64
	queueSize int
	logger    *slog.Logger
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// New creates an event bus with DefaultQueueSize.
func New(logger *slog.Logger) *Bus {
	return NewWithQueueSize(logger, DefaultQueueSize)
}

// NewWithQueueSize creates an event bus with the given per-subscriber buffer.
func NewWithQueueSize(logger *slog.Logger, size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bus{queueSize: size, logger: logger}
}

// Publish queues an event for every matching subscriber. It never blocks.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	// Handlers run after the publishing request may have finished.
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		return
	}
	for _, sub := range b.subs {
		if sub.eventType != "" && sub.eventType != event.Type {
			continue
		}
		select {
		case sub.queue <- delivery{ctx: ctx, event: event}:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped: subscriber queue full",
				"event", string(event.Type),
				"session", event.SessionID,
			)
		}
	}
}

// Dropped returns how many deliveries were discarded because a queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := &subscription{
		id:        b.nextID.Add(1),
		eventType: eventType,
		handler:   handler,
		queue:     make(chan delivery, b.queueSize),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == sub.id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					close(sub.queue)
					return
				}
			}
		})
	}
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for d := range sub.queue {
		b.deliver(sub, d)
	}
}

func (b *Bus) deliver(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Close prevents new publishes and waits for queued events to be handled.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	for _, s := range b.subs {
		close(s.queue)
	}
	b.subs = nil
	b.mu.Unlock()
	b.wg.Wait()
}
