package event_test

import (
	"sync"
	"testing"

	"github.com/storyloom/sidecar/internal/event"
	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	t.Parallel()
	bus := event.NewBus()

	var got []event.Message
	id := bus.Subscribe("sidecar-stdout", func(m event.Message) {
		got = append(got, m)
	})
	require.NotEmpty(t, id)
	require.Equal(t, 1, bus.SubscriptionCount())

	bus.Emit("sidecar-stderr", "ignored")
	bus.Emit("sidecar-stdout", "ready")
	require.Len(t, got, 1)
	require.Equal(t, "sidecar-stdout", got[0].Topic)
	require.Equal(t, "ready", got[0].Payload)
	require.False(t, got[0].Time.IsZero())

	require.True(t, bus.Unsubscribe(id))
	require.False(t, bus.Unsubscribe(id))
	require.Zero(t, bus.SubscriptionCount())

	bus.Emit("sidecar-stdout", "again")
	require.Len(t, got, 1)
}

func TestBusOrdering(t *testing.T) {
	t.Parallel()
	bus := event.NewBus()

	var order []string
	bus.SubscribeAll(func(m event.Message) {
		order = append(order, "all:"+m.Topic)
	})
	bus.Subscribe("a", func(m event.Message) {
		order = append(order, "a1")
	})
	bus.Subscribe("a", func(m event.Message) {
		order = append(order, "a2")
	})

	bus.Emit("a", nil)
	bus.Emit("b", nil)
	require.Equal(t, []string{"a1", "a2", "all:a", "all:b"}, order)
}

func TestBusPanickingHandler(t *testing.T) {
	t.Parallel()
	bus := event.NewBus()

	called := false
	bus.Subscribe("x", func(event.Message) {
		panic("boom")
	})
	bus.Subscribe("x", func(event.Message) {
		called = true
	})

	require.NotPanics(t, func() { bus.Emit("x", 1) })
	require.True(t, called)
}

func TestBusConcurrent(t *testing.T) {
	t.Parallel()
	bus := event.NewBus()

	var (
		mx    sync.Mutex
		count int
		wg    sync.WaitGroup
	)
	bus.SubscribeAll(func(event.Message) {
		mx.Lock()
		count++
		mx.Unlock()
	})
	for range 16 {
		wg.Go(func() {
			for range 100 {
				bus.Emit("t", nil)
			}
		})
	}
	wg.Wait()
	require.Equal(t, 1600, count)
}
