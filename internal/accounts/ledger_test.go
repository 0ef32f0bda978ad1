package accounts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyRealizedPnLLossClampsWalletAndKeepsCredit(t *testing.T) {
	l := Ledger{WalletBalance: d("300"), CreditBalance: d("500"), UsedMargin: decimal.Zero}

	b := l.ApplyRealizedPnL(d("-800"))

	assert.True(t, l.WalletBalance.IsZero())
	assert.True(t, l.CreditBalance.Equal(d("500")))
	assert.True(t, b.WalletDeducted.Equal(d("300")))
	assert.True(t, b.CreditDeducted.IsZero())
	assert.True(t, b.Unrecovered.Equal(d("500")))
	assert.True(t, b.WalletAdded.IsZero())
}

func TestApplyRealizedPnLProfitGoesToWallet(t *testing.T) {
	l := Ledger{WalletBalance: d("100"), CreditBalance: d("50")}

	b := l.ApplyRealizedPnL(d("25.5"))

	assert.True(t, l.WalletBalance.Equal(d("125.5")))
	assert.True(t, l.CreditBalance.Equal(d("50")))
	assert.True(t, b.WalletAdded.Equal(d("25.5")))
	assert.True(t, b.Unrecovered.IsZero())
}

func TestApplyRealizedPnLPartialLoss(t *testing.T) {
	l := Ledger{WalletBalance: d("1000"), CreditBalance: d("200")}

	b := l.ApplyRealizedPnL(d("-150"))

	assert.True(t, l.WalletBalance.Equal(d("850")))
	assert.True(t, b.WalletDeducted.Equal(d("150")))
	assert.True(t, b.Unrecovered.IsZero())
}

func TestMarginLevel(t *testing.T) {
	l := Ledger{WalletBalance: d("1000"), CreditBalance: d("0"), UsedMargin: d("500")}

	level, ok := l.MarginLevel(d("-100"))
	require.True(t, ok)
	assert.True(t, level.Equal(d("180")))

	l.UsedMargin = decimal.Zero
	_, ok = l.MarginLevel(decimal.Zero)
	assert.False(t, ok)
}

func TestCreditAdjustments(t *testing.T) {
	l := Ledger{CreditBalance: decimal.Zero}

	require.NoError(t, l.GrantCredit(d("500")))
	assert.ErrorIs(t, l.GrantCredit(d("0")), ErrInvalidAmount)
	assert.ErrorIs(t, l.RevokeCredit(d("600")), ErrInsufficientCredit)
	require.NoError(t, l.RevokeCredit(d("200")))
	assert.True(t, l.CreditBalance.Equal(d("300")))
}

func TestReleaseMarginFloorsAtZero(t *testing.T) {
	l := Ledger{UsedMargin: d("10")}
	l.ReleaseMargin(d("25"))
	assert.True(t, l.UsedMargin.IsZero())
}

func TestWithdrawNeedsWalletAndFreeMargin(t *testing.T) {
	l := Ledger{WalletBalance: d("100"), CreditBalance: d("500"), UsedMargin: d("550")}

	// free margin = 600 - 550 = 50
	assert.ErrorIs(t, l.Withdraw(d("60"), decimal.Zero), ErrInsufficientFunds)
	require.NoError(t, l.Withdraw(d("50"), decimal.Zero))
	assert.True(t, l.WalletBalance.Equal(d("50")))

	l = Ledger{WalletBalance: d("100"), CreditBalance: d("500")}
	assert.ErrorIs(t, l.Withdraw(d("150"), decimal.Zero), ErrInsufficientFunds)
}

func TestBuyingPower(t *testing.T) {
	l := Ledger{WalletBalance: d("1000"), UsedMargin: d("400"), Leverage: 100}
	assert.True(t, l.BuyingPower(decimal.Zero).Equal(d("60000")))

	l.UsedMargin = d("2000")
	assert.True(t, l.BuyingPower(decimal.Zero).IsZero())
}
