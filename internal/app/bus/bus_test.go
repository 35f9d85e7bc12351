package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type pinged struct{ n int }

func (pinged) Kind() Kind { return "test.pinged" }

type ponged struct{}

func (ponged) Kind() Kind { return "test.ponged" }

func TestPublishDeliversByKindInOrder(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("test.pinged", func(Event) { got = append(got, "first") })
	On(b, "test.pinged", func(e pinged) { got = append(got, "second") })
	b.Subscribe("test.ponged", func(Event) { got = append(got, "pong") })

	b.Publish(pinged{n: 1})
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	stop := On(b, "test.pinged", func(pinged) { calls++ })
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(pinged{})
	stop()
	stop()
	b.Publish(pinged{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestHandlerMayUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	calls := 0
	var stop func()
	stop = b.Subscribe("test.pinged", func(Event) {
		calls++
		stop()
	})
	b.Publish(pinged{})
	b.Publish(pinged{})
	assert.Equal(t, 1, calls)
}

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	b.Publish(pinged{})
	stop := b.Subscribe("test.pinged", func(Event) {})
	stop()
	assert.Equal(t, 0, b.SubscriberCount())
}
