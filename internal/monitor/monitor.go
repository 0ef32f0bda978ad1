// Package monitor runs the periodic scan that fills pending orders, closes
// positions at their stop loss or take profit and enforces margin levels.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/contracts"
	"lv-margincore/internal/logging"
	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/metrics"
	"lv-margincore/internal/model"
	"lv-margincore/internal/notify"
	"lv-margincore/internal/orders"
	"lv-margincore/internal/positions"
	"lv-margincore/internal/settlement"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PriceSource hands out a fixed view of prices for one scan cycle.
type PriceSource interface {
	Snapshot() marketdata.Snapshot
}

type Monitor struct {
	accounts  *accounts.Registry
	book      *positions.Book
	contracts *contracts.Table
	prices    PriceSource
	exec      *orders.Executor
	settle    *settlement.Engine
	resolver  *StopOutResolver
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	interval  time.Duration
	workers   int
	now       func() time.Time

	mu         sync.Mutex
	inCallZone map[string]bool
}

type Deps struct {
	Accounts  *accounts.Registry
	Book      *positions.Book
	Contracts *contracts.Table
	Prices    PriceSource
	Executor  *orders.Executor
	Settle    *settlement.Engine
	Resolver  *StopOutResolver
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Interval  time.Duration
	Workers   int
}

func New(d Deps) *Monitor {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	workers := d.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Monitor{
		accounts:   d.Accounts,
		book:       d.Book,
		contracts:  d.Contracts,
		prices:     d.Prices,
		exec:       d.Executor,
		settle:     d.Settle,
		resolver:   d.Resolver,
		notifier:   notifier,
		metrics:    d.Metrics,
		logger:     logging.OrNop(d.Logger).Named("monitor"),
		interval:   interval,
		workers:    workers,
		now:        time.Now,
		inCallZone: make(map[string]bool),
	}
}

// Run scans on every tick of the interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("position monitor started", zap.Duration("interval", m.interval), zap.Int("workers", m.workers))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("position monitor stopped")
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan runs one cycle over every account with exposure. Accounts are
// evaluated in parallel; a failing account is logged and skipped.
func (m *Monitor) Scan(ctx context.Context) {
	start := time.Now()
	prices := m.prices.Snapshot()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, accountID := range m.book.AccountsWithExposure() {
		accountID := accountID
		g.Go(func() error {
			if err := m.scanAccount(gctx, accountID, prices); err != nil {
				m.metrics.AccountFailed()
				m.logger.Error("account scan failed", zap.String("account_id", accountID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	m.metrics.ObserveScan(time.Since(start))
}

func (m *Monitor) scanAccount(ctx context.Context, accountID string, prices marketdata.Snapshot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	now := m.now()
	// failures are collected; the margin check always runs
	var errs []error

	for _, p := range m.book.Pending(accountID) {
		q, ok := prices.Quote(p.Instrument)
		if !ok || !m.contracts.IsMarketOpen(p.Instrument, now) || !orders.TriggerReached(p, q) {
			continue
		}
		if _, err := m.exec.Activate(ctx, p.ID); err != nil {
			m.logger.Warn("activate failed", zap.String("account_id", accountID), zap.String("position_id", p.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("activate %s: %w", p.ID, err))
		}
	}

	for _, p := range m.book.OpenPositions(accountID) {
		q, ok := prices.Quote(p.Instrument)
		if !ok || !m.contracts.IsMarketOpen(p.Instrument, now) {
			continue
		}
		price, reason, hit := StopTriggered(p, q)
		if !hit {
			continue
		}
		if _, err := m.settle.Close(ctx, p.ID, price, reason); err != nil {
			m.logger.Warn("stop close failed", zap.String("account_id", accountID), zap.String("position_id", p.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", p.ID, err))
		}
	}

	if err := m.checkMargin(ctx, accountID, prices); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Monitor) checkMargin(ctx context.Context, accountID string, prices marketdata.Snapshot) error {
	lvl, err := evaluate(m.accounts, m.book, accountID, prices)
	if err != nil {
		return err
	}
	if !lvl.Priced {
		m.logger.Debug("margin check skipped: unpriced position", zap.String("account_id", accountID))
		return nil
	}
	if lvl.Open == 0 || !lvl.Bounded {
		m.leaveCallZone(accountID)
		return nil
	}
	switch {
	case !lvl.Value.GreaterThan(lvl.Ledger.StopOutLevel):
		m.leaveCallZone(accountID)
		if _, err := m.resolver.Resolve(ctx, accountID, prices); err != nil {
			return fmt.Errorf("stop out: %w", err)
		}
	case !lvl.Value.GreaterThan(lvl.Ledger.MarginCallLevel):
		if m.enterCallZone(accountID) {
			m.metrics.MarginCall()
			m.logger.Warn("margin call",
				zap.String("account_id", accountID),
				zap.String("margin_level", lvl.Value.StringFixed(2)))
			m.notifier.Notify(ctx, notify.Event{
				AccountID: accountID,
				Event:     notify.EventMarginCall,
				Payload: map[string]string{
					"margin_level": lvl.Value.StringFixed(2),
					"equity":       lvl.Ledger.Equity(lvl.Floating).StringFixed(2),
					"margin":       lvl.Ledger.UsedMargin.StringFixed(2),
				},
			})
		}
	default:
		m.leaveCallZone(accountID)
	}
	return nil
}

// StopTriggered checks stop loss before take profit. Both boundaries are
// inclusive and the close happens at the configured level.
func StopTriggered(p model.Position, q marketdata.Quote) (decimal.Decimal, types.CloseReason, bool) {
	price := q.ExitPrice(p.Side)
	long := p.Side == types.PositionSideBuy
	if p.StopLoss != nil {
		if (long && price.LessThanOrEqual(*p.StopLoss)) || (!long && price.GreaterThanOrEqual(*p.StopLoss)) {
			return *p.StopLoss, types.CloseReasonStopLoss, true
		}
	}
	if p.TakeProfit != nil {
		if (long && price.GreaterThanOrEqual(*p.TakeProfit)) || (!long && price.LessThanOrEqual(*p.TakeProfit)) {
			return *p.TakeProfit, types.CloseReasonTakeProfit, true
		}
	}
	return decimal.Zero, types.CloseReasonNone, false
}

// enterCallZone reports whether the account just entered the margin call
// zone. A notification is sent once per entry.
func (m *Monitor) enterCallZone(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inCallZone[accountID] {
		return false
	}
	m.inCallZone[accountID] = true
	return true
}

func (m *Monitor) leaveCallZone(accountID string) {
	m.mu.Lock()
	delete(m.inCallZone, accountID)
	m.mu.Unlock()
}
