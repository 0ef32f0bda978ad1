package notify

import (
	"context"
	"testing"
	"time"

	"lv-margincore/internal/marketdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	events []Event
}

func (c *capture) Notify(_ context.Context, evt Event) {
	c.events = append(c.events, evt)
}

func TestFanoutStampsAndForwards(t *testing.T) {
	a, b := &capture{}, &capture{}
	f := Fanout{a, nil, b}

	f.Notify(context.Background(), Event{AccountID: "acc", Event: EventMarginCall})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.False(t, a.events[0].At.IsZero())
	assert.Equal(t, EventMarginCall, b.events[0].Event)
}

func TestBusNotifierPublishesWithAccount(t *testing.T) {
	bus := marketdata.NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	NewBusNotifier(bus).Notify(context.Background(), Event{AccountID: "acc", Event: EventStopOut})

	select {
	case evt := <-ch:
		assert.Equal(t, EventStopOut, evt.Type)
		assert.Equal(t, "acc", evt.AccountID)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
