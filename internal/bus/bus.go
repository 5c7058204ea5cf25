// Package bus provides the synchronous publish-subscribe hub that connects
// the runtime's services. UI callbacks are a separate, direct surface; the
// bus only orders subscribers relative to each other.
package bus

import (
	"log/slog"
	"sync"
)

// Event is any immutable payload published on the bus.
type Event interface {
	// EventName returns the stable event identifier used for routing.
	EventName() string
}

// Handler consumes one event. Handlers run on the publisher's goroutine in
// registration order; a panic in one handler is recovered and logged so the
// remaining handlers still run.
type Handler func(Event)

// Bus is a synchronous publish-subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	handlers map[string][]subscription
}

type subscription struct {
	fn    Handler
	async bool
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger.With("component", "bus"),
		handlers: make(map[string][]subscription),
	}
}

// Subscribe registers a handler for the named event. Handlers are invoked
// synchronously in registration order.
func (b *Bus) Subscribe(name string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], subscription{fn: h})
}

// SubscribeAsync registers a handler that receives events on its own
// goroutine, fire-and-forget. Async handlers observe publish order only
// per-handler, not relative to synchronous handlers.
func (b *Bus) SubscribeAsync(name string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], subscription{fn: h, async: true})
}

// Publish delivers the event to every subscriber of its name. Each
// subscriber is called at most once; a panicking subscriber does not
// prevent subsequent subscribers from running.
func (b *Bus) Publish(event Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[event.EventName()]))
	copy(subs, b.handlers[event.EventName()])
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.async {
			go b.invoke(sub.fn, event)
		} else {
			b.invoke(sub.fn, event)
		}
	}
}

func (b *Bus) invoke(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"event", event.EventName(),
				"panic", r)
		}
	}()
	h(event)
}
