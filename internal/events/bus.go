package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc receives one event. Handlers run on their own goroutine and
// must not block for long.
type HandlerFunc func(ctx context.Context, event Event)

// EventBus fans events out to subscribers. Game code emits without
// waiting; the outer surfaces (telemetry, web console) subscribe, most of
// them to EventAny.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]HandlerFunc
	stopped  bool
	inflight sync.WaitGroup
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType]map[string]HandlerFunc)}
}

// Subscribe registers handler under name for eventType, replacing an
// earlier handler of the same name.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[string]HandlerFunc)
	}
	eb.handlers[eventType][name] = handler
	eb.mu.Unlock()

	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed to event")
}

// Unsubscribe removes the handler registered under name.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	delete(eb.handlers[eventType], name)
	eb.mu.Unlock()
}

// Emit hands the event to every matching handler and returns at once.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.dispatch(ctx, event)
}

// EmitSync hands the event to every matching handler and waits for them,
// used where delivery must finish before the caller goes on (shutdown).
func (eb *EventBus) EmitSync(ctx context.Context, event Event) {
	if done := eb.dispatch(ctx, event); done != nil {
		done.Wait()
	}
}

// dispatch starts one goroutine per handler of the event type and of
// EventAny. It returns nil when nothing was started.
func (eb *EventBus) dispatch(ctx context.Context, event Event) *sync.WaitGroup {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return nil
	}

	var done sync.WaitGroup
	start := func(name string, h HandlerFunc) {
		done.Add(1)
		eb.inflight.Add(1)
		go func() {
			defer eb.inflight.Done()
			defer done.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event", string(event.Type)).
						Str("handler", name).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()
			h(ctx, event)
		}()
	}

	n := 0
	for name, h := range eb.handlers[event.Type] {
		start(name, h)
		n++
	}
	if event.Type != EventAny {
		for name, h := range eb.handlers[EventAny] {
			start(name, h)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	log.Trace().Str("event", string(event.Type)).Str("source", event.Source).Int("handlers", n).Msg("event emitted")
	return &done
}

// Stop drops every later event and waits for running handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	eb.mu.Unlock()

	eb.inflight.Wait()
	log.Info().Msg("event bus stopped")
}
