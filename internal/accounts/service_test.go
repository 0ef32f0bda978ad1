package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lv-margincore/internal/config"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func (j *recordingJournal) RecordEntry(_ context.Context, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

type fixedExposure struct {
	pnl  decimal.Decimal
	open int
	ok   bool
}

func (f fixedExposure) Floating(string) (decimal.Decimal, int, bool) {
	return f.pnl, f.open, f.ok
}

func newTestRegistry(t *testing.T) (*Registry, *recordingJournal) {
	t.Helper()
	j := &recordingJournal{}
	return NewRegistry(config.DefaultRisk(), j, nil), j
}

func TestOpenAppliesDefaultsAndRejectsDuplicates(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	acc, err := reg.Open(ctx, OpenRequest{ID: "acc-1"})
	require.NoError(t, err)
	assert.Equal(t, 100, acc.Leverage)
	assert.True(t, acc.MarginCallLevel.Equal(d("50")))
	assert.True(t, acc.StopOutLevel.Equal(d("20")))

	_, err = reg.Open(ctx, OpenRequest{ID: "acc-1"})
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestOpenValidatesOverrides(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Open(ctx, OpenRequest{ID: "a", Leverage: 5000})
	assert.ErrorIs(t, err, ErrInvalidLeverage)

	mc := d("30")
	so := d("40")
	_, err = reg.Open(ctx, OpenRequest{ID: "b", MarginCallLevel: &mc, StopOutLevel: &so})
	assert.ErrorIs(t, err, ErrInvalidRiskLevels)

	so = d("10")
	acc, err := reg.Open(ctx, OpenRequest{ID: "c", MarginCallLevel: &mc, StopOutLevel: &so})
	require.NoError(t, err)
	assert.True(t, acc.StopOutLevel.Equal(d("10")))
}

func TestUpdateIsAllOrNothing(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Open(context.Background(), OpenRequest{ID: "acc"})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = reg.Update("acc", func(l *Ledger) error {
		l.WalletBalance = d("999")
		return boom
	})
	require.ErrorIs(t, err, boom)

	acc, err := reg.Get("acc")
	require.NoError(t, err)
	assert.True(t, acc.WalletBalance.IsZero())

	_, err = reg.Update("missing", func(*Ledger) error { return nil })
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCreditGrantAndRevokeAreJournaled(t *testing.T) {
	reg, j := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Open(ctx, OpenRequest{ID: "acc"})
	require.NoError(t, err)

	_, err = reg.GrantCredit(ctx, "acc", d("500"), "promo")
	require.NoError(t, err)
	_, err = reg.RevokeCredit(ctx, "acc", d("900"), "too much")
	assert.ErrorIs(t, err, ErrInsufficientCredit)
	acc, err := reg.RevokeCredit(ctx, "acc", d("100"), "adjust")
	require.NoError(t, err)
	assert.True(t, acc.CreditBalance.Equal(d("400")))

	require.Len(t, j.entries, 2)
	assert.Equal(t, types.LedgerEntryTypeCreditGrant, j.entries[0].Type)
	assert.True(t, j.entries[0].CreditAfter.Equal(d("500")))
	assert.Equal(t, types.LedgerEntryTypeCreditRevoke, j.entries[1].Type)
	assert.Equal(t, "adjust", j.entries[1].Reason)
}

func TestWithdrawUsesExposure(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Open(ctx, OpenRequest{ID: "acc"})
	require.NoError(t, err)
	_, err = reg.Deposit(ctx, "acc", d("1000"), "")
	require.NoError(t, err)

	reg.SetExposure(fixedExposure{pnl: d("-950"), open: 1, ok: true})
	_, err = reg.Withdraw(ctx, "acc", d("100"), "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	reg.SetExposure(fixedExposure{ok: false, open: 1})
	_, err = reg.Withdraw(ctx, "acc", d("10"), "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	reg.SetExposure(fixedExposure{ok: true})
	acc, err := reg.Withdraw(ctx, "acc", d("100"), "")
	require.NoError(t, err)
	assert.True(t, acc.WalletBalance.Equal(d("900")))
}

func TestSoftCloseRejectsOpenExposure(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Open(ctx, OpenRequest{ID: "acc"})
	require.NoError(t, err)

	reg.SetExposure(fixedExposure{open: 2, ok: true})
	_, err = reg.SoftClose(ctx, "acc")
	assert.ErrorIs(t, err, ErrOpenExposure)

	reg.SetExposure(fixedExposure{ok: true})
	acc, err := reg.SoftClose(ctx, "acc")
	require.NoError(t, err)
	assert.True(t, acc.Closed)

	_, err = reg.Deposit(ctx, "acc", d("10"), "")
	assert.ErrorIs(t, err, ErrAccountClosed)
}

func TestMetricsUnboundedMarginLevel(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Open(ctx, OpenRequest{ID: "acc"})
	require.NoError(t, err)
	_, err = reg.Deposit(ctx, "acc", d("1000"), "")
	require.NoError(t, err)

	m, err := reg.Metrics("acc")
	require.NoError(t, err)
	assert.Nil(t, m.MarginLevel)
	assert.True(t, m.Equity.Equal(d("1000")))
	assert.True(t, m.BuyingPower.Equal(d("100000")))
}

func TestConcurrentDepositsSerialize(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Open(ctx, OpenRequest{ID: "acc"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Deposit(ctx, "acc", d("1"), "")
		}()
	}
	wg.Wait()

	acc, err := reg.Get("acc")
	require.NoError(t, err)
	assert.True(t, acc.WalletBalance.Equal(d("100")))
}
