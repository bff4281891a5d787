package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmitSyncReachesTypedAndWildcardHandlers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var typed, any atomic.Int32
	bus.Subscribe(EventPlayerChat, "typed", func(ctx context.Context, e Event) { typed.Add(1) })
	bus.Subscribe(EventAny, "all", func(ctx context.Context, e Event) { any.Add(1) })

	bus.EmitSync(context.Background(), New(EventPlayerChat, "test", ChatPayload{Name: "Alice"}))
	bus.EmitSync(context.Background(), New(EventLevelSaved, "test", nil))

	assert.EqualValues(t, 1, typed.Load())
	assert.EqualValues(t, 2, any.Load())
}

func TestEmitSyncWaitsForSlowHandlers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var finished atomic.Bool
	bus.Subscribe(EventServerStopping, "slow", func(ctx context.Context, e Event) {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	bus.EmitSync(context.Background(), New(EventServerStopping, "test", nil))
	assert.True(t, finished.Load())
}

func TestEmitRecoversPanics(t *testing.T) {
	bus := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(EventPlayerConnected, "panics", func(ctx context.Context, e Event) { panic("bad handler") })
	bus.Subscribe(EventPlayerConnected, "ok", func(ctx context.Context, e Event) { wg.Done() })

	bus.Emit(context.Background(), New(EventPlayerConnected, "test", nil))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	bus.Stop()
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventHeartbeat, "a", func(ctx context.Context, e Event) { calls.Add(1) })

	bus.EmitSync(context.Background(), New(EventHeartbeat, "test", nil))
	assert.EqualValues(t, 1, calls.Load())

	bus.Unsubscribe(EventHeartbeat, "a")
	bus.EmitSync(context.Background(), New(EventHeartbeat, "test", nil))
	assert.EqualValues(t, 1, calls.Load())

	bus.Stop()
	bus.Stop()

	bus.Subscribe(EventHeartbeat, "late", func(ctx context.Context, e Event) { calls.Add(1) })
	bus.EmitSync(context.Background(), New(EventHeartbeat, "test", nil))
	assert.EqualValues(t, 1, calls.Load())
}
