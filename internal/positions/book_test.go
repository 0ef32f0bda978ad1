package positions

import (
	"testing"
	"time"

	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/model"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openPos(id, account, instrument string, side types.PositionSide, entry string, openedAt time.Time) model.Position {
	return model.Position{
		ID:           id,
		AccountID:    account,
		Instrument:   instrument,
		Side:         side,
		Kind:         types.OrderKindMarket,
		Status:       types.PositionStatusOpen,
		Lots:         d("1"),
		ContractSize: d("100000"),
		EntryPrice:   d(entry),
		Leverage:     100,
		MarginHeld:   d("1000"),
		CreatedAt:    openedAt,
		OpenedAt:     openedAt,
	}
}

func quote(instrument, bid, ask string) marketdata.Quote {
	return marketdata.Quote{Instrument: instrument, Bid: d(bid), Ask: d(ask), Timestamp: t0}
}

func TestFloatingPnLBySide(t *testing.T) {
	long := openPos("p1", "a", "EURUSD", types.PositionSideBuy, "1.1000", t0)
	short := openPos("p2", "a", "EURUSD", types.PositionSideSell, "1.1000", t0)

	assert.True(t, FloatingPnL(long, d("1.0950")).Equal(d("-500")))
	assert.True(t, FloatingPnL(short, d("1.0950")).Equal(d("500")))
}

func TestGetReturnsCopies(t *testing.T) {
	b := NewBook()
	p := openPos("p1", "a", "EURUSD", types.PositionSideBuy, "1.1", t0)
	sl := d("1.05")
	p.StopLoss = &sl
	b.Put(p)

	got, err := b.Get("p1")
	require.NoError(t, err)
	*got.StopLoss = d("9")

	again, err := b.Get("p1")
	require.NoError(t, err)
	assert.True(t, again.StopLoss.Equal(d("1.05")))

	_, err = b.Get("missing")
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestWorstLosingPicksLargestLoss(t *testing.T) {
	b := NewBook()
	b.Put(openPos("small", "a", "EURUSD", types.PositionSideBuy, "1.1010", t0))
	b.Put(openPos("big", "a", "GBPUSD", types.PositionSideBuy, "1.3000", t0.Add(time.Minute)))
	b.Put(openPos("winner", "a", "USDJPY", types.PositionSideSell, "150.00", t0))

	prices := marketdata.Snapshot{
		"EURUSD": quote("EURUSD", "1.1000", "1.1001"),
		"GBPUSD": quote("GBPUSD", "1.2900", "1.2901"),
		"USDJPY": quote("USDJPY", "149.00", "149.01"),
	}
	v, ok := b.WorstLosing("a", prices)
	require.True(t, ok)
	assert.Equal(t, "big", v.Position.ID)
	assert.True(t, v.Price.Equal(d("1.2900")))
}

func TestWorstLosingTieGoesToOldest(t *testing.T) {
	b := NewBook()
	b.Put(openPos("newer", "a", "EURUSD", types.PositionSideBuy, "1.1010", t0.Add(time.Hour)))
	b.Put(openPos("older", "a", "EURUSD", types.PositionSideBuy, "1.1010", t0))

	prices := marketdata.Snapshot{"EURUSD": quote("EURUSD", "1.1000", "1.1001")}
	v, ok := b.WorstLosing("a", prices)
	require.True(t, ok)
	assert.Equal(t, "older", v.Position.ID)
}

func TestWorstLosingSkipsUnpriced(t *testing.T) {
	b := NewBook()
	b.Put(openPos("win", "a", "EURUSD", types.PositionSideBuy, "1.0900", t0))
	b.Put(openPos("unpriced", "a", "XAUUSD", types.PositionSideBuy, "2000", t0))

	prices := marketdata.Snapshot{"EURUSD": quote("EURUSD", "1.1000", "1.1001")}
	v, ok := b.WorstLosing("a", prices)
	require.True(t, ok)
	assert.Equal(t, "win", v.Position.ID)

	_, ok = b.WorstLosing("a", marketdata.Snapshot{})
	assert.False(t, ok)

	pnl, open, priced := b.AccountFloating("a", prices)
	assert.Equal(t, 2, open)
	assert.False(t, priced)
	assert.True(t, pnl.Equal(d("1000")))
}

func TestOpenPendingAndExposure(t *testing.T) {
	b := NewBook()
	b.Put(openPos("p1", "a", "EURUSD", types.PositionSideBuy, "1.1", t0.Add(time.Minute)))
	b.Put(openPos("p0", "a", "EURUSD", types.PositionSideBuy, "1.1", t0))
	pending := openPos("o1", "b", "EURUSD", types.PositionSideBuy, "1.1", t0)
	pending.Status = types.PositionStatusPending
	pending.OpenedAt = time.Time{}
	b.Put(pending)
	closed := openPos("c1", "c", "EURUSD", types.PositionSideBuy, "1.1", t0)
	closed.Status = types.PositionStatusClosed
	b.Put(closed)

	open := b.OpenPositions("a")
	require.Len(t, open, 2)
	assert.Equal(t, "p0", open[0].ID)
	assert.Len(t, b.Pending("b"), 1)
	assert.Equal(t, []string{"a", "b"}, b.AccountsWithExposure())
	assert.Len(t, b.History("c"), 1)
}
