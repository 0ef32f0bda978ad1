// Package settlement turns a position close into exactly one balance
// change. Closing the same position twice returns the first outcome and
// changes nothing.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/logging"
	"lv-margincore/internal/metrics"
	"lv-margincore/internal/model"
	"lv-margincore/internal/notify"
	"lv-margincore/internal/positions"
	"lv-margincore/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidClosePrice  = errors.New("close price must be positive")
	ErrPositionNotOpen    = errors.New("position is not open")
	ErrPositionNotPending = errors.New("order is not pending")

	errAlreadySettled = errors.New("already settled")
)

// Receipt describes the balance effect of one settlement.
type Receipt struct {
	ID             string                `json:"id"`
	PositionID     string                `json:"position_id"`
	AccountID      string                `json:"account_id"`
	Instrument     string                `json:"instrument"`
	Reason         types.CloseReason     `json:"reason"`
	ClosePrice     decimal.Decimal       `json:"close_price"`
	RawPnL         decimal.Decimal       `json:"raw_pnl"`
	FinalPnL       decimal.Decimal       `json:"final_pnl"`
	MarginReleased decimal.Decimal       `json:"margin_released"`
	WalletBefore   decimal.Decimal       `json:"wallet_before"`
	WalletAfter    decimal.Decimal       `json:"wallet_after"`
	CreditBefore   decimal.Decimal       `json:"credit_before"`
	CreditAfter    decimal.Decimal       `json:"credit_after"`
	Breakdown      accounts.PnLBreakdown `json:"breakdown"`
	AlreadySettled bool                  `json:"already_settled"`
	At             time.Time             `json:"at"`
}

// Recorder persists receipts for audit.
type Recorder interface {
	RecordReceipt(ctx context.Context, r Receipt) error
}

type Engine struct {
	accounts *accounts.Registry
	book     *positions.Book
	recorder Recorder
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(reg *accounts.Registry, book *positions.Book, recorder Recorder, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		accounts: reg,
		book:     book,
		recorder: recorder,
		notifier: notifier,
		metrics:  m,
		logger:   logging.OrNop(logger).Named("settlement"),
		now:      time.Now,
	}
}

// Close settles an open position at closePrice. The margin release, the
// wallet change and the status change are committed together under the
// account lock.
func (e *Engine) Close(ctx context.Context, positionID string, closePrice decimal.Decimal, reason types.CloseReason) (Receipt, error) {
	if !closePrice.IsPositive() {
		return Receipt{}, ErrInvalidClosePrice
	}
	p, err := e.lookup(positionID)
	if err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	_, err = e.accounts.Update(p.AccountID, func(l *accounts.Ledger) error {
		cur, err := e.book.Get(positionID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			receipt = settledReceipt(cur, *l)
			return errAlreadySettled
		}
		if cur.Status != types.PositionStatusOpen {
			return ErrPositionNotOpen
		}

		at := e.now().UTC()
		raw := positions.FloatingPnL(cur, closePrice)
		receipt = Receipt{
			ID:             uuid.NewString(),
			PositionID:     cur.ID,
			AccountID:      cur.AccountID,
			Instrument:     cur.Instrument,
			Reason:         reason,
			ClosePrice:     closePrice,
			RawPnL:         raw,
			MarginReleased: cur.MarginHeld,
			WalletBefore:   l.WalletBalance,
			CreditBefore:   l.CreditBalance,
			At:             at,
		}
		l.ReleaseMargin(cur.MarginHeld)
		receipt.Breakdown = l.ApplyRealizedPnL(raw)
		receipt.FinalPnL = raw
		receipt.WalletAfter = l.WalletBalance
		receipt.CreditAfter = l.CreditBalance

		price := closePrice
		final := raw
		cur.Status = types.PositionStatusClosed
		cur.CloseReason = reason
		cur.ClosePrice = &price
		cur.RealizedPnL = &final
		cur.ClosedAt = &at
		e.book.Put(cur)
		return nil
	})
	switch {
	case errors.Is(err, errAlreadySettled):
		return receipt, nil
	case err != nil:
		return Receipt{}, e.fail(positionID, p.AccountID, err)
	}

	e.logger.Info("position settled",
		zap.String("account_id", receipt.AccountID),
		zap.String("position_id", receipt.PositionID),
		zap.String("reason", string(reason)),
		zap.String("close_price", closePrice.String()),
		zap.String("raw_pnl", receipt.RawPnL.String()),
		zap.String("wallet_after", receipt.WalletAfter.String()))
	e.metrics.PositionClosed(string(reason))
	e.record(ctx, receipt)
	e.notifier.Notify(ctx, notify.Event{
		AccountID: receipt.AccountID,
		Event:     notify.EventPositionClosed,
		Payload:   receipt,
		At:        receipt.At,
	})
	return receipt, nil
}

// Cancel withdraws a pending order and releases the margin it reserved.
// Cancelling an order that is already terminal is a no-op.
func (e *Engine) Cancel(ctx context.Context, positionID string) (Receipt, error) {
	p, err := e.lookup(positionID)
	if err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	_, err = e.accounts.Update(p.AccountID, func(l *accounts.Ledger) error {
		cur, err := e.book.Get(positionID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			receipt = settledReceipt(cur, *l)
			return errAlreadySettled
		}
		if cur.Status != types.PositionStatusPending {
			return ErrPositionNotPending
		}
		at := e.now().UTC()
		receipt = Receipt{
			ID:             uuid.NewString(),
			PositionID:     cur.ID,
			AccountID:      cur.AccountID,
			Instrument:     cur.Instrument,
			Reason:         types.CloseReasonCancelled,
			RawPnL:         decimal.Zero,
			FinalPnL:       decimal.Zero,
			MarginReleased: cur.MarginHeld,
			WalletBefore:   l.WalletBalance,
			WalletAfter:    l.WalletBalance,
			CreditBefore:   l.CreditBalance,
			CreditAfter:    l.CreditBalance,
			At:             at,
		}
		l.ReleaseMargin(cur.MarginHeld)
		cur.Status = types.PositionStatusCancelled
		cur.CloseReason = types.CloseReasonCancelled
		cur.ClosedAt = &at
		e.book.Put(cur)
		return nil
	})
	switch {
	case errors.Is(err, errAlreadySettled):
		return receipt, nil
	case err != nil:
		return Receipt{}, e.fail(positionID, p.AccountID, err)
	}

	e.metrics.PositionClosed(string(types.CloseReasonCancelled))
	e.record(ctx, receipt)
	e.notifier.Notify(ctx, notify.Event{
		AccountID: receipt.AccountID,
		Event:     notify.EventOrderCancelled,
		Payload:   receipt,
		At:        receipt.At,
	})
	return receipt, nil
}

func (e *Engine) lookup(positionID string) (model.Position, error) {
	p, err := e.book.Get(positionID)
	if err != nil {
		return model.Position{}, e.fail(positionID, "", err)
	}
	return p, nil
}

// fail logs consistency errors loudly. A settlement that cannot find its
// account or position points at corrupted state, not at a bad request.
func (e *Engine) fail(positionID, accountID string, err error) error {
	if errors.Is(err, accounts.ErrAccountNotFound) || errors.Is(err, positions.ErrPositionNotFound) {
		e.metrics.SettlementFailed()
		e.logger.Error("settlement consistency failure",
			zap.String("position_id", positionID),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
	return fmt.Errorf("settle %s: %w", positionID, err)
}

func (e *Engine) record(ctx context.Context, r Receipt) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordReceipt(ctx, r); err != nil {
		e.logger.Error("record receipt failed", zap.String("position_id", r.PositionID), zap.Error(err))
	}
}

func settledReceipt(p model.Position, l accounts.Ledger) Receipt {
	r := Receipt{
		PositionID:     p.ID,
		AccountID:      p.AccountID,
		Instrument:     p.Instrument,
		Reason:         p.CloseReason,
		ClosePrice:     decimal.Zero,
		RawPnL:         decimal.Zero,
		FinalPnL:       decimal.Zero,
		MarginReleased: decimal.Zero,
		WalletBefore:   l.WalletBalance,
		WalletAfter:    l.WalletBalance,
		CreditBefore:   l.CreditBalance,
		CreditAfter:    l.CreditBalance,
		AlreadySettled: true,
	}
	if p.ClosePrice != nil {
		r.ClosePrice = *p.ClosePrice
	}
	if p.RealizedPnL != nil {
		r.RawPnL = *p.RealizedPnL
		r.FinalPnL = *p.RealizedPnL
	}
	if p.ClosedAt != nil {
		r.At = *p.ClosedAt
	}
	return r
}
