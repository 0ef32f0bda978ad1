// Package notify delivers account events (margin calls, stop-outs and
// position closes) to subscribers.
package notify

import (
	"context"
	"time"

	"lv-margincore/internal/logging"
	"lv-margincore/internal/marketdata"

	"go.uber.org/zap"
)

const (
	EventMarginCall     = "margin_call"
	EventStopOut        = "stop_out"
	EventPositionClosed = "position_closed"
	EventPositionOpened = "position_opened"
	EventOrderCancelled = "order_cancelled"
)

type Event struct {
	AccountID string    `json:"account_id"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier must not block the caller for long. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// BusNotifier publishes events on the in-process bus read by the events
// websocket.
type BusNotifier struct {
	bus *marketdata.Bus
}

func NewBusNotifier(bus *marketdata.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (n *BusNotifier) Notify(_ context.Context, evt Event) {
	if n == nil || n.bus == nil {
		return
	}
	n.bus.Publish(marketdata.Event{Type: evt.Event, AccountID: evt.AccountID, Data: evt})
}

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger).Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, evt Event) {
	n.logger.Info("account event",
		zap.String("account_id", evt.AccountID),
		zap.String("event", evt.Event),
		zap.Any("payload", evt.Payload))
}

// Fanout sends every event to each notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, evt)
		}
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
