package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversInSubscriptionOrder(t *testing.T) {
	hub := New[int]()

	var got []string
	hub.Subscribe(func(v int) { got = append(got, "first") })
	hub.Subscribe(func(v int) { got = append(got, "second") })
	hub.Subscribe(func(v int) { got = append(got, "third") })

	hub.Publish(1)
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestHub_Dispose(t *testing.T) {
	hub := New[string]()

	var a, b []string
	disposeA := hub.Subscribe(func(v string) { a = append(a, v) })
	hub.Subscribe(func(v string) { b = append(b, v) })

	hub.Publish("one")
	disposeA()
	disposeA()
	hub.Publish("two")

	assert.Equal(t, []string{"one"}, a)
	assert.Equal(t, []string{"one", "two"}, b)
	assert.Equal(t, 1, hub.Len())
}

func TestHub_DisposeDuringPublish(t *testing.T) {
	hub := New[int]()

	calls := 0
	var dispose func()
	dispose = hub.Subscribe(func(int) {
		calls++
		dispose()
	})

	hub.Publish(1)
	hub.Publish(2)
	assert.Equal(t, 1, calls)
}

func TestHub_Channel(t *testing.T) {
	hub := New[int]()
	ch, release := hub.Channel(2)

	hub.Publish(1)
	hub.Publish(2)
	hub.Publish(3) // dropped, buffer full

	require.Equal(t, 1, <-ch)
	require.Equal(t, 2, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}

	release()
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after release")
	assert.Equal(t, 0, hub.Len())
}
