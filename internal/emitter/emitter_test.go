package emitter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitInRegistrationOrder(t *testing.T) {
	e := New()
	var order []int
	e.On("evt", func(any) { order = append(order, 1) })
	e.On("evt", func(any) { order = append(order, 2) })
	e.On("evt", func(any) { order = append(order, 3) })

	e.Emit("evt", nil)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestUnsubscribeDuringDispatchDoesNotSkipSuccessor(t *testing.T) {
	e := New()
	var calls []string
	var offFirst func()
	offFirst = e.On("evt", func(any) {
		calls = append(calls, "first")
		offFirst()
	})
	e.On("evt", func(any) { calls = append(calls, "second") })

	e.Emit("evt", nil)
	require.Equal(t, []string{"first", "second"}, calls)

	e.Emit("evt", nil)
	require.Equal(t, []string{"first", "second", "second"}, calls)
}

func TestListenerAddedDuringDispatchNotInvoked(t *testing.T) {
	e := New()
	var calls []string
	e.On("evt", func(any) {
		calls = append(calls, "outer")
		e.On("evt", func(any) { calls = append(calls, "inner") })
	})

	e.Emit("evt", nil)
	require.Equal(t, []string{"outer"}, calls)

	e.Emit("evt", nil)
	require.Equal(t, []string{"outer", "outer", "inner"}, calls)
}

func TestSubscribeUnsubscribeLeavesEmitterEmpty(t *testing.T) {
	e := New()
	off := e.On("evt", func(any) {})
	require.Equal(t, 1, e.ListenerCount("evt"))

	off()
	require.Equal(t, 0, e.ListenerCount("evt"))

	// Double-unsubscribe is a no-op.
	off()
	require.Equal(t, 0, e.ListenerCount("evt"))
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	e := New()
	count := 0
	e.Once("evt", func(any) { count++ })

	e.Emit("evt", nil)
	e.Emit("evt", nil)
	require.Equal(t, 1, count)
	require.Equal(t, 0, e.ListenerCount("evt"))
}

func TestClearRemovesEverything(t *testing.T) {
	e := New()
	e.On("a", func(any) { t.Fatal("should not fire") })
	e.On("b", func(any) { t.Fatal("should not fire") })

	e.Clear()
	e.Emit("a", nil)
	e.Emit("b", nil)
	require.Equal(t, 0, e.ListenerCount("a"))
	require.Equal(t, 0, e.ListenerCount("b"))
}
