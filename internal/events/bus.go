package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// DefaultMaxInFlight bounds the asynchronous handler goroutines of a bus.
// The listener publishes per connection, so a ping flood must not turn
// into a goroutine flood.
const DefaultMaxInFlight = 1024

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// Option configures an EventBus.
type Option func(*EventBus)

// WithLogger sets the logger handler failures are reported to.
func WithLogger(logger zerolog.Logger) Option {
	return func(eb *EventBus) { eb.logger = logger }
}

// WithMaxInFlight caps concurrent asynchronous deliveries. Deliveries
// beyond the cap are dropped and counted.
func WithMaxInFlight(n int) Option {
	return func(eb *EventBus) {
		if n > 0 {
			eb.slots = make(chan struct{}, n)
		}
	}
}

// EventBus is an asynchronous publish-subscribe bus. Emit never blocks the
// publisher: each delivery runs on its own goroutine while a slot is free.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup

	slots   chan struct{}
	dropped atomic.Uint64
	logger  zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a bus.
func NewEventBus(opts ...Option) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		slots:    make(chan struct{}, DefaultMaxInFlight),
		logger:   log.Logger.With().Str("component", "events").Logger(),
	}
	for _, opt := range opts {
		opt(eb)
	}
	return eb
}

// Subscribe registers a handler for one event type. name identifies the
// handler in logs and for Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	eb.logger.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeAll registers one handler for several event types.
func (eb *EventBus) SubscribeAll(name string, handler HandlerFunc, types ...EventType) {
	for _, t := range types {
		eb.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes a named handler from every event type it was
// registered for when no types are given, otherwise from the listed ones.
func (eb *EventBus) Unsubscribe(name string, types ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if len(types) == 0 {
		for t := range eb.handlers {
			types = append(types, t)
		}
	}
	for _, t := range types {
		handlers := eb.handlers[t]
		kept := handlers[:0:0]
		for _, h := range handlers {
			if h.name != name {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(eb.handlers, t)
		} else {
			eb.handlers[t] = kept
		}
	}
}

// Emit delivers event to every subscriber asynchronously. Deliveries that
// find no free slot are dropped.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}
	handlers := eb.handlers[event.Type]
	if len(handlers) == 0 {
		return
	}

	for _, h := range handlers {
		select {
		case eb.slots <- struct{}{}:
		default:
			if eb.dropped.Inc() == 1 {
				eb.logger.Warn().
					Str("event", string(event.Type)).
					Str("handler", h.name).
					Int("max_in_flight", cap(eb.slots)).
					Msg("event bus saturated, dropping deliveries")
			}
			continue
		}
		eb.wg.Add(1)
		go func() {
			defer func() {
				<-eb.slots
				eb.wg.Done()
			}()
			eb.run(ctx, h, event)
		}()
	}
}

// EmitSync delivers event to every subscriber and waits for them. It
// returns the first handler error. Synchronous deliveries are never
// dropped.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	handlers := append([]handlerEntry(nil), eb.handlers[event.Type]...)
	eb.mu.RUnlock()

	var (
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	for _, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eb.run(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (eb *EventBus) run(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		eb.logger.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop rejects further events and waits for in-flight deliveries.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	eb.mu.Unlock()

	eb.wg.Wait()
	if n := eb.dropped.Load(); n > 0 {
		eb.logger.Warn().Uint64("dropped", n).Msg("event bus stopped with dropped deliveries")
		return
	}
	eb.logger.Debug().Msg("event bus stopped")
}

// Dropped returns how many asynchronous deliveries found no free slot.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// HandlerCount returns the number of handlers registered for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
