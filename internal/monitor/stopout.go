package monitor

import (
	"context"
	"sync"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/logging"
	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/metrics"
	"lv-margincore/internal/notify"
	"lv-margincore/internal/positions"
	"lv-margincore/internal/settlement"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StopOutResolver liquidates an account one position at a time, worst
// first, re-evaluating the margin level after every close.
type StopOutResolver struct {
	accounts *accounts.Registry
	book     *positions.Book
	settle   *settlement.Engine
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	running  sync.Map
}

func NewStopOutResolver(reg *accounts.Registry, book *positions.Book, settle *settlement.Engine, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *StopOutResolver {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &StopOutResolver{
		accounts: reg,
		book:     book,
		settle:   settle,
		notifier: notifier,
		metrics:  m,
		logger:   logging.OrNop(logger).Named("stopout"),
	}
}

// Level is the margin state of an account at a given set of prices.
type Level struct {
	Ledger   accounts.Ledger
	Floating decimal.Decimal
	Open     int
	Priced   bool
	Value    decimal.Decimal
	Bounded  bool
}

func evaluate(reg *accounts.Registry, book *positions.Book, accountID string, prices marketdata.Prices) (Level, error) {
	l, err := reg.Get(accountID)
	if err != nil {
		return Level{}, err
	}
	floating, open, priced := book.AccountFloating(accountID, prices)
	lvl := Level{Ledger: l, Floating: floating, Open: open, Priced: priced}
	lvl.Value, lvl.Bounded = l.MarginLevel(floating)
	return lvl, nil
}

// Resolve runs the cascade for one account and returns the receipts of the
// positions it closed. A call made while another run for the same account
// is in progress returns immediately with nothing closed.
func (r *StopOutResolver) Resolve(ctx context.Context, accountID string, prices marketdata.Prices) ([]settlement.Receipt, error) {
	if _, busy := r.running.LoadOrStore(accountID, struct{}{}); busy {
		return nil, nil
	}
	defer r.running.Delete(accountID)

	var closed []settlement.Receipt
	for {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		lvl, err := evaluate(r.accounts, r.book, accountID, prices)
		if err != nil {
			return closed, err
		}
		if lvl.Open == 0 || !lvl.Bounded || lvl.Value.GreaterThan(lvl.Ledger.StopOutLevel) {
			break
		}
		worst, ok := r.book.WorstLosing(accountID, prices)
		if !ok {
			r.logger.Warn("stop out stalled: no priced position",
				zap.String("account_id", accountID),
				zap.String("margin_level", lvl.Value.StringFixed(2)))
			break
		}
		receipt, err := r.settle.Close(ctx, worst.Position.ID, worst.Price, types.CloseReasonStopOut)
		if err != nil {
			return closed, err
		}
		if receipt.AlreadySettled {
			// closed elsewhere since we looked; re-evaluate
			continue
		}
		r.logger.Warn("stop out closed position",
			zap.String("account_id", accountID),
			zap.String("position_id", receipt.PositionID),
			zap.String("margin_level", lvl.Value.StringFixed(2)),
			zap.String("pnl", receipt.FinalPnL.String()))
		closed = append(closed, receipt)
	}

	if len(closed) > 0 {
		r.metrics.StopOut()
		r.notifier.Notify(ctx, notify.Event{
			AccountID: accountID,
			Event:     notify.EventStopOut,
			Payload:   closed,
		})
	}
	return closed, nil
}
