package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestBus_FiltersByKind(t *testing.T) {
	bus := NewBus()
	triggers := bus.Subscribe(Online, Focus)
	all := bus.Subscribe()
	defer triggers.Close()
	defer all.Close()

	bus.Publish(Event{Kind: Status, Status: "syncing"})
	bus.Publish(Event{Kind: Focus})

	assert.Equal(t, Focus, receive(t, triggers).Kind)
	assert.Equal(t, Status, receive(t, all).Kind)
	assert.Equal(t, Focus, receive(t, all).Kind)

	select {
	case e := <-triggers.C:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	bus.Publish(Event{Kind: Online})

	_, ok := <-sub.C
	assert.False(t, ok, "channel is closed")
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	for i := 0; i < DefaultBuffer+10; i++ {
		bus.Publish(Event{Kind: Storage})
	}

	assert.Len(t, sub.C, DefaultBuffer)
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(30 * time.Second)
	start := time.Unix(1000, 0)

	require.True(t, th.AllowAt(Focus, start))
	assert.False(t, th.AllowAt(Focus, start.Add(time.Second)), "rapid focus churn is throttled")
	assert.True(t, th.AllowAt(Online, start.Add(time.Second)), "kinds are throttled independently")
	assert.True(t, th.AllowAt(Focus, start.Add(31*time.Second)))
}

func TestThrottle_Disabled(t *testing.T) {
	th := NewThrottle(0)
	for i := 0; i < 5; i++ {
		assert.True(t, th.Allow(Focus))
	}
}
