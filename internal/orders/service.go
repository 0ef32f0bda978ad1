package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/config"
	"lv-margincore/internal/contracts"
	"lv-margincore/internal/logging"
	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/metrics"
	"lv-margincore/internal/model"
	"lv-margincore/internal/notify"
	"lv-margincore/internal/positions"
	"lv-margincore/internal/settlement"
	"lv-margincore/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Executor validates order requests and turns them into positions.
type Executor struct {
	accounts  *accounts.Registry
	book      *positions.Book
	contracts *contracts.Table
	prices    marketdata.Prices
	settle    *settlement.Engine
	journal   accounts.Journal
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	risk      config.RiskDefaults
	logger    *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Accounts  *accounts.Registry
	Book      *positions.Book
	Contracts *contracts.Table
	Prices    marketdata.Prices
	Settle    *settlement.Engine
	Journal   accounts.Journal
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Risk      config.RiskDefaults
	Logger    *zap.Logger
}

func NewExecutor(d Deps) *Executor {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Executor{
		accounts:  d.Accounts,
		book:      d.Book,
		contracts: d.Contracts,
		prices:    d.Prices,
		settle:    d.Settle,
		journal:   d.Journal,
		notifier:  notifier,
		metrics:   d.Metrics,
		risk:      d.Risk,
		logger:    logging.OrNop(d.Logger).Named("orders"),
		now:       time.Now,
	}
}

type OrderRequest struct {
	AccountID  string
	Instrument string
	Side       types.PositionSide
	Lots       decimal.Decimal
	Leverage   int
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

type PendingRequest struct {
	OrderRequest
	Kind    types.OrderKind
	Trigger decimal.Decimal
}

type CloseResult struct {
	Scope    string               `json:"scope"`
	Total    int                  `json:"total"`
	Closed   int                  `json:"closed"`
	Failed   int                  `json:"failed"`
	Receipts []settlement.Receipt `json:"receipts"`
}

func (x *Executor) spec(req OrderRequest) (contracts.Spec, error) {
	if !req.Side.Valid() {
		return contracts.Spec{}, ErrInvalidSide
	}
	spec, err := x.contracts.Get(marketdata.NormalizeInstrument(req.Instrument))
	if err != nil {
		return contracts.Spec{}, err
	}
	if !spec.Active {
		return contracts.Spec{}, ErrInstrumentInactive
	}
	if !req.Lots.IsPositive() {
		return contracts.Spec{}, ErrInvalidLots
	}
	if spec.MinLot.IsPositive() && req.Lots.LessThan(spec.MinLot) {
		return contracts.Spec{}, fmt.Errorf("%w: below minimum %s", ErrInvalidLots, spec.MinLot)
	}
	if spec.MaxLot.IsPositive() && req.Lots.GreaterThan(spec.MaxLot) {
		return contracts.Spec{}, fmt.Errorf("%w: above maximum %s", ErrInvalidLots, spec.MaxLot)
	}
	return spec, nil
}

// ExecutionPrice is the fill price of a market order: the entry side of
// the quote moved against the trader by the configured spread.
func (x *Executor) ExecutionPrice(q marketdata.Quote, side types.PositionSide, spec contracts.Spec) decimal.Decimal {
	markup := x.risk.SpreadPips.Mul(spec.PipSize)
	if side == types.PositionSideSell {
		return q.Bid.Sub(markup)
	}
	return q.Ask.Add(markup)
}

func (x *Executor) commission(lots, price decimal.Decimal, spec contracts.Spec) decimal.Decimal {
	notional := lots.Mul(price).Mul(spec.ContractSize)
	return lots.Mul(x.risk.CommissionPerLot).Add(notional.Mul(x.risk.CommissionRate))
}

// resolveLeverage applies the account cap. Zero means the cap itself.
func resolveLeverage(requested, accountCap int) (int, error) {
	if requested == 0 {
		return accountCap, nil
	}
	if requested < 1 || requested > accountCap {
		return 0, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidLeverage, accountCap)
	}
	return requested, nil
}

func marginRequired(lots, price, contractSize decimal.Decimal, leverage int) decimal.Decimal {
	return lots.Mul(price).Mul(contractSize).Div(decimal.NewFromInt(int64(leverage)))
}

func checkStops(side types.PositionSide, price decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) error {
	if stopLoss != nil {
		if !stopLoss.IsPositive() {
			return fmt.Errorf("%w: stop loss must be positive", ErrInvalidStopLevel)
		}
		if side == types.PositionSideBuy && !stopLoss.LessThan(price) {
			return fmt.Errorf("%w: stop loss must be below %s", ErrInvalidStopLevel, price)
		}
		if side == types.PositionSideSell && !stopLoss.GreaterThan(price) {
			return fmt.Errorf("%w: stop loss must be above %s", ErrInvalidStopLevel, price)
		}
	}
	if takeProfit != nil {
		if !takeProfit.IsPositive() {
			return fmt.Errorf("%w: take profit must be positive", ErrInvalidStopLevel)
		}
		if side == types.PositionSideBuy && !takeProfit.GreaterThan(price) {
			return fmt.Errorf("%w: take profit must be above %s", ErrInvalidStopLevel, price)
		}
		if side == types.PositionSideSell && !takeProfit.LessThan(price) {
			return fmt.Errorf("%w: take profit must be below %s", ErrInvalidStopLevel, price)
		}
	}
	return nil
}

// checkRisk runs the pre-trade checks in order. Nothing is mutated.
func checkRisk(l accounts.Ledger, floating, margin, commission decimal.Decimal) error {
	free := l.FreeMargin(floating)
	if free.LessThan(margin) {
		return reject(ErrInsufficientFreeMargin, margin, free)
	}
	if l.WalletBalance.LessThan(commission) {
		return reject(ErrInsufficientWalletForCharges, commission, l.WalletBalance)
	}
	projectedUsed := l.UsedMargin.Add(margin)
	if projectedUsed.IsPositive() {
		projected := l.Equity(floating).Sub(commission).Div(projectedUsed).Mul(hundred)
		if !projected.GreaterThan(l.MarginCallLevel) {
			return reject(ErrImmediateMarginCall, l.MarginCallLevel, projected)
		}
	}
	return nil
}

// OpenMarket opens a position at the current price. On success exactly one
// commission debit, one margin reservation and one position are written,
// all under the account lock.
func (x *Executor) OpenMarket(ctx context.Context, req OrderRequest) (model.Position, error) {
	pos, err := x.openMarket(ctx, req)
	if err != nil {
		x.metrics.OrderRejected(rejectLabel(err))
		x.logger.Info("order rejected",
			zap.String("account_id", req.AccountID),
			zap.String("instrument", req.Instrument),
			zap.Error(err))
		return model.Position{}, err
	}
	return pos, nil
}

func (x *Executor) openMarket(ctx context.Context, req OrderRequest) (model.Position, error) {
	spec, err := x.spec(req)
	if err != nil {
		return model.Position{}, err
	}
	now := x.now().UTC()
	if !spec.MarketOpen(now) {
		return model.Position{}, ErrMarketClosed
	}
	q, ok := x.prices.Quote(spec.Symbol)
	if !ok {
		return model.Position{}, ErrPriceUnavailable
	}
	price := x.ExecutionPrice(q, req.Side, spec)
	if !price.IsPositive() {
		return model.Position{}, ErrPriceUnavailable
	}
	if err := checkStops(req.Side, price, req.StopLoss, req.TakeProfit); err != nil {
		return model.Position{}, err
	}

	var (
		pos        model.Position
		commission decimal.Decimal
		before     accounts.Ledger
	)
	after, err := x.accounts.Update(req.AccountID, func(l *accounts.Ledger) error {
		if l.Closed {
			return accounts.ErrAccountClosed
		}
		leverage, err := resolveLeverage(req.Leverage, l.Leverage)
		if err != nil {
			return err
		}
		floating, _, priced := x.book.AccountFloating(l.ID, x.prices)
		if !priced {
			return ErrPriceUnavailable
		}
		margin := marginRequired(req.Lots, price, spec.ContractSize, leverage)
		commission = x.commission(req.Lots, price, spec)
		if err := checkRisk(*l, floating, margin, commission); err != nil {
			return err
		}

		before = *l
		l.ChargeCommission(commission)
		l.ReserveMargin(margin)
		pos = model.Position{
			ID:           uuid.NewString(),
			AccountID:    l.ID,
			Instrument:   spec.Symbol,
			Side:         req.Side,
			Kind:         types.OrderKindMarket,
			Status:       types.PositionStatusOpen,
			Lots:         req.Lots,
			ContractSize: spec.ContractSize,
			EntryPrice:   price,
			Leverage:     leverage,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			MarginHeld:   margin,
			Commission:   commission,
			CreatedAt:    now,
			OpenedAt:     now,
		}
		x.book.Put(pos)
		return nil
	})
	if err != nil {
		return model.Position{}, err
	}

	x.logger.Info("position opened",
		zap.String("account_id", pos.AccountID),
		zap.String("position_id", pos.ID),
		zap.String("instrument", pos.Instrument),
		zap.String("side", string(pos.Side)),
		zap.String("lots", pos.Lots.String()),
		zap.String("price", pos.EntryPrice.String()),
		zap.String("margin", pos.MarginHeld.String()))
	x.recordCommission(ctx, pos, commission, before, after)
	x.notifier.Notify(ctx, notify.Event{AccountID: pos.AccountID, Event: notify.EventPositionOpened, Payload: pos, At: now})
	return pos, nil
}

// PlacePending creates a limit or stop order. Margin is reserved at the
// trigger price now; commission is charged when the order fills.
func (x *Executor) PlacePending(ctx context.Context, req PendingRequest) (model.Position, error) {
	pos, err := x.placePending(ctx, req)
	if err != nil {
		x.metrics.OrderRejected(rejectLabel(err))
		return model.Position{}, err
	}
	return pos, nil
}

func (x *Executor) placePending(ctx context.Context, req PendingRequest) (model.Position, error) {
	if req.Kind != types.OrderKindLimit && req.Kind != types.OrderKindStop {
		return model.Position{}, ErrInvalidOrderKind
	}
	if !req.Trigger.IsPositive() {
		return model.Position{}, ErrInvalidTrigger
	}
	spec, err := x.spec(req.OrderRequest)
	if err != nil {
		return model.Position{}, err
	}
	if err := checkStops(req.Side, req.Trigger, req.StopLoss, req.TakeProfit); err != nil {
		return model.Position{}, err
	}

	now := x.now().UTC()
	var pos model.Position
	_, err = x.accounts.Update(req.AccountID, func(l *accounts.Ledger) error {
		if l.Closed {
			return accounts.ErrAccountClosed
		}
		leverage, err := resolveLeverage(req.Leverage, l.Leverage)
		if err != nil {
			return err
		}
		floating, _, priced := x.book.AccountFloating(l.ID, x.prices)
		if !priced {
			return ErrPriceUnavailable
		}
		margin := marginRequired(req.Lots, req.Trigger, spec.ContractSize, leverage)
		if err := checkRisk(*l, floating, margin, x.commission(req.Lots, req.Trigger, spec)); err != nil {
			return err
		}
		l.ReserveMargin(margin)
		trigger := req.Trigger
		pos = model.Position{
			ID:           uuid.NewString(),
			AccountID:    l.ID,
			Instrument:   spec.Symbol,
			Side:         req.Side,
			Kind:         req.Kind,
			Status:       types.PositionStatusPending,
			Lots:         req.Lots,
			ContractSize: spec.ContractSize,
			EntryPrice:   trigger,
			TriggerPrice: &trigger,
			Leverage:     leverage,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			MarginHeld:   margin,
			Commission:   decimal.Zero,
			CreatedAt:    now,
		}
		x.book.Put(pos)
		return nil
	})
	if err != nil {
		return model.Position{}, err
	}
	x.logger.Info("pending order placed",
		zap.String("account_id", pos.AccountID),
		zap.String("position_id", pos.ID),
		zap.String("kind", string(pos.Kind)),
		zap.String("trigger", req.Trigger.String()))
	return pos, nil
}

// TriggerReached reports whether a pending order fills at quote q.
func TriggerReached(p model.Position, q marketdata.Quote) bool {
	if p.TriggerPrice == nil {
		return false
	}
	trigger := *p.TriggerPrice
	price := q.EntryPrice(p.Side)
	switch {
	case p.Kind == types.OrderKindLimit && p.Side == types.PositionSideBuy:
		return price.LessThanOrEqual(trigger)
	case p.Kind == types.OrderKindLimit && p.Side == types.PositionSideSell:
		return price.GreaterThanOrEqual(trigger)
	case p.Kind == types.OrderKindStop && p.Side == types.PositionSideBuy:
		return price.GreaterThanOrEqual(trigger)
	case p.Kind == types.OrderKindStop && p.Side == types.PositionSideSell:
		return price.LessThanOrEqual(trigger)
	}
	return false
}

// Activate fills a pending order at its trigger price. The risk checks run
// again at fill time and an order that fails them is cancelled instead.
// Orders that are no longer pending, or whose account has an unpriced
// position, are left alone.
func (x *Executor) Activate(ctx context.Context, positionID string) (model.Position, error) {
	p, err := x.book.Get(positionID)
	if err != nil {
		return model.Position{}, err
	}
	spec, err := x.contracts.Get(p.Instrument)
	if err != nil {
		return model.Position{}, err
	}

	now := x.now().UTC()
	var (
		pos        model.Position
		commission decimal.Decimal
		before     accounts.Ledger
		skipped    bool
	)
	after, err := x.accounts.Update(p.AccountID, func(l *accounts.Ledger) error {
		cur, err := x.book.Get(positionID)
		if err != nil {
			return err
		}
		if cur.Status != types.PositionStatusPending || cur.TriggerPrice == nil {
			pos = cur
			skipped = true
			return nil
		}
		floating, _, priced := x.book.AccountFloating(l.ID, x.prices)
		if !priced {
			pos = cur
			skipped = true
			return nil
		}
		commission = x.commission(cur.Lots, *cur.TriggerPrice, spec)
		// the order's margin is already part of UsedMargin
		if err := checkRisk(*l, floating, decimal.Zero, commission); err != nil {
			return err
		}
		before = *l
		l.ChargeCommission(commission)
		cur.Status = types.PositionStatusOpen
		cur.EntryPrice = *cur.TriggerPrice
		cur.Commission = commission
		cur.OpenedAt = now
		x.book.Put(cur)
		pos = cur
		return nil
	})
	if fillRejected(err) {
		x.logger.Warn("pending order cancelled at activation",
			zap.String("account_id", p.AccountID),
			zap.String("position_id", positionID),
			zap.Error(err))
		if _, cerr := x.settle.Cancel(ctx, positionID); cerr != nil {
			return model.Position{}, cerr
		}
		return x.book.Get(positionID)
	}
	if err != nil {
		return model.Position{}, err
	}
	if skipped {
		return pos, nil
	}

	x.logger.Info("pending order filled",
		zap.String("account_id", pos.AccountID),
		zap.String("position_id", pos.ID),
		zap.String("price", pos.EntryPrice.String()))
	x.recordCommission(ctx, pos, commission, before, after)
	x.notifier.Notify(ctx, notify.Event{AccountID: pos.AccountID, Event: notify.EventPositionOpened, Payload: pos, At: now})
	return pos, nil
}

func fillRejected(err error) bool {
	return errors.Is(err, ErrInsufficientFreeMargin) ||
		errors.Is(err, ErrInsufficientWalletForCharges) ||
		errors.Is(err, ErrImmediateMarginCall)
}

func (x *Executor) owned(accountID, positionID string) (model.Position, error) {
	if strings.TrimSpace(accountID) == "" {
		return model.Position{}, ErrAccountIDRequired
	}
	p, err := x.book.Get(positionID)
	if err != nil {
		return model.Position{}, err
	}
	if p.AccountID != strings.TrimSpace(accountID) {
		return model.Position{}, positions.ErrPositionNotFound
	}
	return p, nil
}

// CancelPending withdraws a pending order of the account.
func (x *Executor) CancelPending(ctx context.Context, accountID, positionID string) (settlement.Receipt, error) {
	if _, err := x.owned(accountID, positionID); err != nil {
		return settlement.Receipt{}, err
	}
	return x.settle.Cancel(ctx, positionID)
}

// ClosePosition closes an open position at the current exit price.
func (x *Executor) ClosePosition(ctx context.Context, accountID, positionID string) (settlement.Receipt, error) {
	p, err := x.owned(accountID, positionID)
	if err != nil {
		return settlement.Receipt{}, err
	}
	// Non-open positions go straight to settlement, which answers with the
	// stored outcome or ErrPositionNotOpen.
	price := p.EntryPrice
	switch {
	case p.Status == types.PositionStatusOpen:
		if !x.contracts.IsMarketOpen(p.Instrument, x.now()) {
			return settlement.Receipt{}, ErrMarketClosed
		}
		q, ok := x.prices.Quote(p.Instrument)
		if !ok {
			return settlement.Receipt{}, ErrPriceUnavailable
		}
		price = q.ExitPrice(p.Side)
	case p.ClosePrice != nil:
		price = *p.ClosePrice
	}
	return x.settle.Close(ctx, positionID, price, types.CloseReasonManual)
}

// CloseByScope closes the account's open positions that match scope.
// Individual failures are counted and do not stop the rest.
func (x *Executor) CloseByScope(ctx context.Context, accountID, scope string) (CloseResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(scope))
	if normalized == "" {
		normalized = "all"
	}
	if normalized != "all" && normalized != "profit" && normalized != "loss" {
		return CloseResult{}, ErrInvalidScope
	}
	if _, err := x.accounts.Get(accountID); err != nil {
		return CloseResult{}, err
	}

	marked, missing := x.book.Value(accountID, x.prices)
	selected := make([]positions.Valuation, 0, len(marked))
	for _, v := range marked {
		switch normalized {
		case "all":
			selected = append(selected, v)
		case "profit":
			if v.PnL.IsPositive() {
				selected = append(selected, v)
			}
		case "loss":
			if v.PnL.IsNegative() {
				selected = append(selected, v)
			}
		}
	}

	res := CloseResult{Scope: normalized, Total: len(selected), Receipts: []settlement.Receipt{}}
	if normalized == "all" {
		res.Total += len(missing)
		res.Failed += len(missing)
	}
	for _, v := range selected {
		if !x.contracts.IsMarketOpen(v.Position.Instrument, x.now()) {
			res.Failed++
			continue
		}
		r, err := x.settle.Close(ctx, v.Position.ID, v.Price, types.CloseReasonManual)
		if err != nil {
			res.Failed++
			continue
		}
		res.Closed++
		res.Receipts = append(res.Receipts, r)
	}
	return res, nil
}

// Positions lists the account's positions. An empty status returns the
// whole history.
func (x *Executor) Positions(accountID string, status types.PositionStatus) ([]model.Position, error) {
	if _, err := x.accounts.Get(accountID); err != nil {
		return nil, err
	}
	switch status {
	case types.PositionStatusOpen:
		return x.book.OpenPositions(accountID), nil
	case types.PositionStatusPending:
		return x.book.Pending(accountID), nil
	case "":
		return x.book.History(accountID), nil
	}
	out := make([]model.Position, 0)
	for _, p := range x.book.History(accountID) {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (x *Executor) recordCommission(ctx context.Context, p model.Position, amount decimal.Decimal, before, after accounts.Ledger) {
	if x.journal == nil || !amount.IsPositive() {
		return
	}
	err := x.journal.RecordEntry(ctx, accounts.Entry{
		ID:           uuid.NewString(),
		AccountID:    p.AccountID,
		Type:         types.LedgerEntryTypeCommission,
		Amount:       amount,
		Reason:       p.ID,
		WalletBefore: before.WalletBalance,
		WalletAfter:  after.WalletBalance,
		CreditBefore: before.CreditBalance,
		CreditAfter:  after.CreditBalance,
		At:           after.UpdatedAt,
	})
	if err != nil {
		x.logger.Error("journal commission failed", zap.String("position_id", p.ID), zap.Error(err))
	}
}
