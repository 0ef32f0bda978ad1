package accounts

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountClosed      = errors.New("account is closed")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInsufficientFunds  = errors.New("insufficient withdrawable funds")
	ErrOpenExposure       = errors.New("account has open positions")
	ErrInvalidLeverage    = errors.New("invalid leverage")
	ErrInvalidRiskLevels  = errors.New("stop out level must be positive and below margin call level")
)

var hundred = decimal.NewFromInt(100)

// Ledger is the balance state of one trading account. Equity, free margin
// and margin level are derived from it plus a caller supplied floating P/L
// and are never stored.
type Ledger struct {
	ID              string          `json:"id"`
	WalletBalance   decimal.Decimal `json:"wallet_balance"`
	CreditBalance   decimal.Decimal `json:"credit_balance"`
	UsedMargin      decimal.Decimal `json:"used_margin"`
	Leverage        int             `json:"leverage"`
	MarginCallLevel decimal.Decimal `json:"margin_call_level"`
	StopOutLevel    decimal.Decimal `json:"stop_out_level"`
	Closed          bool            `json:"closed"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PnLBreakdown reports how a realized P/L was applied. CreditDeducted is
// always zero: trading outcomes never touch credit.
type PnLBreakdown struct {
	WalletAdded    decimal.Decimal `json:"wallet_added"`
	WalletDeducted decimal.Decimal `json:"wallet_deducted"`
	CreditDeducted decimal.Decimal `json:"credit_deducted"`
	Unrecovered    decimal.Decimal `json:"unrecovered"`
}

// WalletDelta is the signed change the P/L made to the wallet.
func (b PnLBreakdown) WalletDelta() decimal.Decimal {
	return b.WalletAdded.Sub(b.WalletDeducted)
}

func (l Ledger) Equity(floatingPnL decimal.Decimal) decimal.Decimal {
	return l.WalletBalance.Add(l.CreditBalance).Add(floatingPnL)
}

func (l Ledger) FreeMargin(floatingPnL decimal.Decimal) decimal.Decimal {
	return l.Equity(floatingPnL).Sub(l.UsedMargin)
}

// MarginLevel returns equity/usedMargin*100. ok is false when no margin is
// used, which stands for an unbounded level.
func (l Ledger) MarginLevel(floatingPnL decimal.Decimal) (level decimal.Decimal, ok bool) {
	if !l.UsedMargin.IsPositive() {
		return decimal.Zero, false
	}
	return l.Equity(floatingPnL).Div(l.UsedMargin).Mul(hundred), true
}

func (l Ledger) Withdrawable() decimal.Decimal {
	return decimal.Max(decimal.Zero, l.WalletBalance)
}

// BuyingPower is the notional that free margin supports at the account leverage.
func (l Ledger) BuyingPower(floatingPnL decimal.Decimal) decimal.Decimal {
	free := decimal.Max(decimal.Zero, l.FreeMargin(floatingPnL))
	return free.Mul(decimal.NewFromInt(int64(l.Leverage)))
}

// ApplyRealizedPnL credits profit to the wallet and takes losses from the
// wallet only, flooring it at zero.
func (l *Ledger) ApplyRealizedPnL(amount decimal.Decimal) PnLBreakdown {
	out := PnLBreakdown{
		WalletAdded:    decimal.Zero,
		WalletDeducted: decimal.Zero,
		CreditDeducted: decimal.Zero,
		Unrecovered:    decimal.Zero,
	}
	if !amount.IsNegative() {
		l.WalletBalance = l.WalletBalance.Add(amount)
		out.WalletAdded = amount
		return out
	}
	loss := amount.Abs()
	deducted := decimal.Min(loss, decimal.Max(decimal.Zero, l.WalletBalance))
	l.WalletBalance = l.WalletBalance.Sub(deducted)
	if l.WalletBalance.IsNegative() {
		l.WalletBalance = decimal.Zero
	}
	out.WalletDeducted = deducted
	out.Unrecovered = loss.Sub(deducted)
	return out
}

func (l *Ledger) GrantCredit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.CreditBalance = l.CreditBalance.Add(amount)
	return nil
}

func (l *Ledger) RevokeCredit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(l.CreditBalance) {
		return ErrInsufficientCredit
	}
	l.CreditBalance = l.CreditBalance.Sub(amount)
	return nil
}

func (l *Ledger) ReserveMargin(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.UsedMargin = l.UsedMargin.Add(amount)
}

// ReleaseMargin lowers used margin, never below zero.
func (l *Ledger) ReleaseMargin(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.UsedMargin = l.UsedMargin.Sub(amount)
	if l.UsedMargin.IsNegative() {
		l.UsedMargin = decimal.Zero
	}
}

func (l *Ledger) Deposit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.WalletBalance = l.WalletBalance.Add(amount)
	return nil
}

// Withdraw takes amount from the wallet when it is covered both by the
// withdrawable balance and by free margin.
func (l *Ledger) Withdraw(amount, floatingPnL decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(l.Withdrawable()) || amount.GreaterThan(l.FreeMargin(floatingPnL)) {
		return ErrInsufficientFunds
	}
	l.WalletBalance = l.WalletBalance.Sub(amount)
	return nil
}

// ChargeCommission debits a trading charge from the wallet. Callers check
// coverage first.
func (l *Ledger) ChargeCommission(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.WalletBalance = l.WalletBalance.Sub(amount)
}
