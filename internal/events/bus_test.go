package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesTopicListeners(t *testing.T) {
	bus := NewBus()
	var signed, opened []string

	bus.Subscribe(TopicRxSigned, func(ev Event) { signed = append(signed, ev.ConsultationID) })
	bus.Subscribe(TopicConsentOpened, func(ev Event) { opened = append(opened, ev.ConsultationID) })

	bus.Publish(Event{Topic: TopicRxSigned, ConsultationID: "c-1"})

	assert.Equal(t, []string{"c-1"}, signed)
	assert.Empty(t, opened)
}

func TestBus_UnsubscribeDetaches(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(TopicRxSigned, func(Event) { calls++ })
	require.Equal(t, 1, bus.Listeners(TopicRxSigned))

	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Topic: TopicRxSigned})

	assert.Zero(t, calls)
	assert.Zero(t, bus.Listeners(TopicRxSigned))
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{Topic: TopicRxSigned, ConsultationID: "early"})

	var got []string
	bus.Subscribe(TopicRxSigned, func(ev Event) { got = append(got, ev.ConsultationID) })
	assert.Empty(t, got)
}

func TestBus_HandlerMayUnsubscribeItself(t *testing.T) {
	bus := NewBus()
	var order []int
	var unsub func()
	unsub = bus.Subscribe(TopicRxSigned, func(Event) {
		order = append(order, 1)
		unsub()
	})
	bus.Subscribe(TopicRxSigned, func(Event) { order = append(order, 2) })

	bus.Publish(Event{Topic: TopicRxSigned})
	bus.Publish(Event{Topic: TopicRxSigned})

	assert.Equal(t, []int{1, 2, 2}, order)
}

func TestBus_StampsTime(t *testing.T) {
	bus := NewBus()
	var ev Event
	bus.Subscribe(TopicRxSigned, func(e Event) { ev = e })
	bus.Publish(Event{Topic: TopicRxSigned})
	assert.False(t, ev.At.IsZero())
}
