package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/config"
	"lv-margincore/internal/metrics"
	"lv-margincore/internal/model"
	"lv-margincore/internal/positions"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type receipts struct {
	mu  sync.Mutex
	all []Receipt
}

func (r *receipts) RecordReceipt(_ context.Context, rc Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, rc)
	return nil
}

type fixture struct {
	reg      *accounts.Registry
	book     *positions.Book
	engine   *Engine
	receipts *receipts
}

func newFixture(t *testing.T, wallet, credit string) fixture {
	t.Helper()
	ctx := context.Background()
	reg := accounts.NewRegistry(config.DefaultRisk(), nil, nil)
	_, err := reg.Open(ctx, accounts.OpenRequest{ID: "acc"})
	require.NoError(t, err)
	if w := d(wallet); w.IsPositive() {
		_, err = reg.Deposit(ctx, "acc", w, "")
		require.NoError(t, err)
	}
	if c := d(credit); c.IsPositive() {
		_, err = reg.GrantCredit(ctx, "acc", c, "")
		require.NoError(t, err)
	}
	book := positions.NewBook()
	rec := &receipts{}
	return fixture{
		reg:      reg,
		book:     book,
		engine:   NewEngine(reg, book, rec, nil, metrics.New(), nil),
		receipts: rec,
	}
}

// place puts an open position in the book and reserves its margin.
func (f fixture) place(t *testing.T, id string, side types.PositionSide, lots, entry, margin string, status types.PositionStatus) {
	t.Helper()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	p := model.Position{
		ID:           id,
		AccountID:    "acc",
		Instrument:   "EURUSD",
		Side:         side,
		Kind:         types.OrderKindMarket,
		Status:       status,
		Lots:         d(lots),
		ContractSize: d("100000"),
		EntryPrice:   d(entry),
		Leverage:     100,
		MarginHeld:   d(margin),
		CreatedAt:    now,
		OpenedAt:     now,
	}
	_, err := f.reg.Update("acc", func(l *accounts.Ledger) error {
		l.ReserveMargin(p.MarginHeld)
		f.book.Put(p)
		return nil
	})
	require.NoError(t, err)
}

func TestCloseLossBeyondWalletKeepsCredit(t *testing.T) {
	f := newFixture(t, "300", "500")
	// 1 lot long from 1.1000, closed at 1.0920: raw P/L -800
	f.place(t, "p1", types.PositionSideBuy, "1", "1.1000", "200", types.PositionStatusOpen)

	r, err := f.engine.Close(context.Background(), "p1", d("1.0920"), types.CloseReasonStopOut)
	require.NoError(t, err)

	assert.True(t, r.RawPnL.Equal(d("-800")))
	assert.True(t, r.WalletAfter.IsZero())
	assert.True(t, r.CreditAfter.Equal(d("500")))
	assert.True(t, r.CreditBefore.Equal(r.CreditAfter))
	assert.True(t, r.Breakdown.CreditDeducted.IsZero())
	assert.True(t, r.Breakdown.Unrecovered.Equal(d("500")))
	assert.True(t, r.FinalPnL.Equal(d("-800")))
	assert.True(t, r.Breakdown.WalletDeducted.Equal(d("300")))
	assert.True(t, r.Breakdown.WalletDelta().Equal(d("-300")))

	acc, err := f.reg.Get("acc")
	require.NoError(t, err)
	assert.True(t, acc.WalletBalance.IsZero())
	assert.True(t, acc.CreditBalance.Equal(d("500")))
	assert.True(t, acc.UsedMargin.IsZero())

	p, err := f.book.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusClosed, p.Status)
	assert.Equal(t, types.CloseReasonStopOut, p.CloseReason)
	require.NotNil(t, p.RealizedPnL)
	assert.True(t, p.RealizedPnL.Equal(d("-800")))
}

func TestCloseProfitLeavesCreditUnchanged(t *testing.T) {
	f := newFixture(t, "1000", "250")
	f.place(t, "p1", types.PositionSideSell, "0.5", "1.2000", "600", types.PositionStatusOpen)

	r, err := f.engine.Close(context.Background(), "p1", d("1.1900"), types.CloseReasonTakeProfit)
	require.NoError(t, err)
	assert.True(t, r.RawPnL.Equal(d("500")))
	assert.True(t, r.WalletAfter.Equal(d("1500")))
	assert.True(t, r.CreditAfter.Equal(d("250")))
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, "1000", "0")
	f.place(t, "p1", types.PositionSideBuy, "1", "1.1000", "1100", types.PositionStatusOpen)
	ctx := context.Background()

	first, err := f.engine.Close(ctx, "p1", d("1.1050"), types.CloseReasonManual)
	require.NoError(t, err)
	assert.False(t, first.AlreadySettled)
	afterFirst, err := f.reg.Get("acc")
	require.NoError(t, err)

	second, err := f.engine.Close(ctx, "p1", d("1.0000"), types.CloseReasonStopOut)
	require.NoError(t, err)
	assert.True(t, second.AlreadySettled)
	assert.Equal(t, types.CloseReasonManual, second.Reason)
	assert.True(t, second.ClosePrice.Equal(d("1.1050")))

	afterSecond, err := f.reg.Get("acc")
	require.NoError(t, err)
	assert.True(t, afterFirst.WalletBalance.Equal(afterSecond.WalletBalance))
	assert.True(t, afterSecond.UsedMargin.IsZero())
	assert.Len(t, f.receipts.all, 1)
}

func TestConcurrentClosesSettleOnce(t *testing.T) {
	f := newFixture(t, "1000", "0")
	f.place(t, "p1", types.PositionSideBuy, "1", "1.1000", "1100", types.PositionStatusOpen)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Close(context.Background(), "p1", d("1.1010"), types.CloseReasonManual)
		}()
	}
	wg.Wait()

	acc, err := f.reg.Get("acc")
	require.NoError(t, err)
	assert.True(t, acc.WalletBalance.Equal(d("1100")))
	assert.Len(t, f.receipts.all, 1)
}

func TestCloseErrors(t *testing.T) {
	f := newFixture(t, "1000", "0")
	ctx := context.Background()

	_, err := f.engine.Close(ctx, "missing", d("1.1"), types.CloseReasonManual)
	assert.ErrorIs(t, err, positions.ErrPositionNotFound)

	f.place(t, "p1", types.PositionSideBuy, "1", "1.1000", "1100", types.PositionStatusOpen)
	_, err = f.engine.Close(ctx, "p1", decimal.Zero, types.CloseReasonManual)
	assert.ErrorIs(t, err, ErrInvalidClosePrice)

	f.book.Put(model.Position{ID: "orphan", AccountID: "ghost", Status: types.PositionStatusOpen})
	_, err = f.engine.Close(ctx, "orphan", d("1.1"), types.CloseReasonManual)
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestCancelReleasesMarginOnce(t *testing.T) {
	f := newFixture(t, "1000", "0")
	f.place(t, "o1", types.PositionSideBuy, "1", "1.1000", "400", types.PositionStatusPending)
	f.place(t, "p1", types.PositionSideBuy, "1", "1.1000", "300", types.PositionStatusOpen)
	ctx := context.Background()

	_, err := f.engine.Cancel(ctx, "p1")
	assert.ErrorIs(t, err, ErrPositionNotPending)

	r, err := f.engine.Cancel(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, r.MarginReleased.Equal(d("400")))

	again, err := f.engine.Cancel(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, again.AlreadySettled)

	acc, err := f.reg.Get("acc")
	require.NoError(t, err)
	assert.True(t, acc.UsedMargin.Equal(d("300")))
	assert.True(t, acc.WalletBalance.Equal(d("1000")))

	_, err = f.engine.Close(ctx, "o1", d("1.1"), types.CloseReasonManual)
	require.NoError(t, err)
}
