package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_DeliversToMatchingSubscriber(t *testing.T) {
	bus := NewEventBus(4, zerolog.Nop())
	ch := bus.Subscribe(EventPriceUpdate)

	bus.Publish(NewPriceUpdateEvent("AAPL", decimal.NewFromInt(151), decimal.NewFromInt(150)))

	select {
	case ev := <-ch:
		assert.Equal(t, EventPriceUpdate, ev.Type())
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestEventBus_OverflowEvictsOnlySlowSubscriber(t *testing.T) {
	bus := NewEventBus(1, zerolog.Nop())
	slow := bus.Subscribe(EventPriceUpdate)
	fast := bus.Subscribe(EventPriceUpdate)

	// fill the slow subscriber's one-slot buffer without draining it
	bus.Publish(NewPriceUpdateEvent("AAPL", decimal.NewFromInt(1), decimal.NewFromInt(1)))
	// drain fast so it doesn't also overflow
	<-fast

	// second publish: slow's buffer is still full -> evicted; fast receives normally
	bus.Publish(NewPriceUpdateEvent("AAPL", decimal.NewFromInt(2), decimal.NewFromInt(1)))

	// slow should have received its queued event, then an OVERFLOW, then close
	first := <-slow
	assert.Equal(t, EventPriceUpdate, first.Type())
	second, ok := <-slow
	require.True(t, ok)
	assert.Equal(t, EventOverflow, second.Type())
	_, ok = <-slow
	assert.False(t, ok, "channel must be closed after overflow")

	select {
	case ev := <-fast:
		assert.Equal(t, EventPriceUpdate, ev.Type())
	case <-time.After(time.Second):
		t.Fatal("fast subscriber must still receive events")
	}

	assert.Equal(t, 1, bus.SubscriberCount(EventPriceUpdate))
}

func TestEventBus_CloseClosesEverySubscriber(t *testing.T) {
	bus := NewEventBus(4, zerolog.Nop())
	ch := bus.Subscribe(EventOrderPlaced)
	bus.Close()
	_, ok := <-ch
	assert.False(t, ok)
}
