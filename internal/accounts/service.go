package accounts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lv-margincore/internal/config"
	"lv-margincore/internal/logging"
	"lv-margincore/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exposure values the open positions of an account at current prices.
// ok is false when some open position has no price.
type Exposure interface {
	Floating(accountID string) (pnl decimal.Decimal, open int, ok bool)
}

// Entry is one non-trading balance movement handed to the audit journal.
type Entry struct {
	ID           string                `json:"id"`
	AccountID    string                `json:"account_id"`
	Type         types.LedgerEntryType `json:"type"`
	Amount       decimal.Decimal       `json:"amount"`
	Reason       string                `json:"reason,omitempty"`
	WalletBefore decimal.Decimal       `json:"wallet_before"`
	WalletAfter  decimal.Decimal       `json:"wallet_after"`
	CreditBefore decimal.Decimal       `json:"credit_before"`
	CreditAfter  decimal.Decimal       `json:"credit_after"`
	At           time.Time             `json:"at"`
}

type Journal interface {
	RecordEntry(ctx context.Context, e Entry) error
}

type OpenRequest struct {
	ID              string
	Leverage        int
	MarginCallLevel *decimal.Decimal
	StopOutLevel    *decimal.Decimal
}

type AccountMetrics struct {
	AccountID     string           `json:"account_id"`
	Balance       decimal.Decimal  `json:"balance"`
	Credit        decimal.Decimal  `json:"credit"`
	Equity        decimal.Decimal  `json:"equity"`
	Margin        decimal.Decimal  `json:"margin"`
	FreeMargin    decimal.Decimal  `json:"free_margin"`
	MarginLevel   *decimal.Decimal `json:"margin_level"`
	Withdrawable  decimal.Decimal  `json:"withdrawable"`
	BuyingPower   decimal.Decimal  `json:"buying_power"`
	PnL           decimal.Decimal  `json:"pl"`
	OpenPositions int              `json:"open_positions"`
	Priced        bool             `json:"priced"`
}

type slot struct {
	mu     sync.Mutex
	ledger Ledger
}

// Registry owns every account ledger. Each account is its own unit of
// mutual exclusion; there is no lock spanning accounts.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*slot
	defaults config.RiskDefaults
	exposure Exposure
	journal  Journal
	logger   *zap.Logger
	now      func() time.Time
}

func NewRegistry(defaults config.RiskDefaults, journal Journal, logger *zap.Logger) *Registry {
	return &Registry{
		accounts: make(map[string]*slot),
		defaults: defaults,
		journal:  journal,
		logger:   logging.OrNop(logger).Named("accounts"),
		now:      time.Now,
	}
}

// SetExposure wires the position valuation used by withdrawals and metrics.
func (r *Registry) SetExposure(e Exposure) {
	r.exposure = e
}

func (r *Registry) Defaults() config.RiskDefaults {
	return r.defaults
}

func (r *Registry) Open(ctx context.Context, req OpenRequest) (Ledger, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	leverage := req.Leverage
	if leverage == 0 {
		leverage = r.defaults.DefaultLeverage
	}
	if leverage < 1 || leverage > r.defaults.MaxLeverage {
		return Ledger{}, ErrInvalidLeverage
	}
	marginCall := r.defaults.MarginCallLevel
	if req.MarginCallLevel != nil {
		marginCall = *req.MarginCallLevel
	}
	stopOut := r.defaults.StopOutLevel
	if req.StopOutLevel != nil {
		stopOut = *req.StopOutLevel
	}
	if !stopOut.IsPositive() || stopOut.GreaterThanOrEqual(marginCall) {
		return Ledger{}, ErrInvalidRiskLevels
	}

	now := r.now().UTC()
	l := Ledger{
		ID:              id,
		WalletBalance:   decimal.Zero,
		CreditBalance:   decimal.Zero,
		UsedMargin:      decimal.Zero,
		Leverage:        leverage,
		MarginCallLevel: marginCall,
		StopOutLevel:    stopOut,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[id]; exists {
		return Ledger{}, ErrAccountExists
	}
	r.accounts[id] = &slot{ledger: l}
	r.logger.Info("account opened", zap.String("account_id", id), zap.Int("leverage", leverage))
	return l, nil
}

func (r *Registry) slot(id string) (*slot, error) {
	r.mu.RLock()
	s, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s, nil
}

func (r *Registry) Get(id string) (Ledger, error) {
	s, err := r.slot(id)
	if err != nil {
		return Ledger{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger, nil
}

// IDs returns all account ids in a stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Update runs fn with the account lock held on a copy of the ledger. The
// copy replaces the stored ledger only when fn returns nil, so a failing fn
// leaves the account untouched. Anything else fn writes must be written
// last, after every check that can fail.
func (r *Registry) Update(id string, fn func(l *Ledger) error) (Ledger, error) {
	s, err := r.slot(id)
	if err != nil {
		return Ledger{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.ledger
	if err := fn(&next); err != nil {
		return s.ledger, err
	}
	next.UpdatedAt = r.now().UTC()
	s.ledger = next
	return next, nil
}

func (r *Registry) Deposit(ctx context.Context, id string, amount decimal.Decimal, reason string) (Ledger, error) {
	var before Ledger
	after, err := r.Update(id, func(l *Ledger) error {
		before = *l
		if l.Closed {
			return ErrAccountClosed
		}
		return l.Deposit(amount)
	})
	if err != nil {
		return after, err
	}
	r.record(ctx, types.LedgerEntryTypeDeposit, amount, reason, before, after)
	return after, nil
}

func (r *Registry) Withdraw(ctx context.Context, id string, amount decimal.Decimal, reason string) (Ledger, error) {
	var before Ledger
	after, err := r.Update(id, func(l *Ledger) error {
		before = *l
		floating, _, ok := r.floating(id)
		if !ok {
			return ErrInsufficientFunds
		}
		return l.Withdraw(amount, floating)
	})
	if err != nil {
		return after, err
	}
	r.record(ctx, types.LedgerEntryTypeWithdraw, amount, reason, before, after)
	return after, nil
}

// GrantCredit is the administrative path that raises credit.
func (r *Registry) GrantCredit(ctx context.Context, id string, amount decimal.Decimal, reason string) (Ledger, error) {
	var before Ledger
	after, err := r.Update(id, func(l *Ledger) error {
		before = *l
		if l.Closed {
			return ErrAccountClosed
		}
		return l.GrantCredit(amount)
	})
	if err != nil {
		return after, err
	}
	r.record(ctx, types.LedgerEntryTypeCreditGrant, amount, reason, before, after)
	return after, nil
}

// RevokeCredit is the administrative path that lowers credit.
func (r *Registry) RevokeCredit(ctx context.Context, id string, amount decimal.Decimal, reason string) (Ledger, error) {
	var before Ledger
	after, err := r.Update(id, func(l *Ledger) error {
		before = *l
		return l.RevokeCredit(amount)
	})
	if err != nil {
		return after, err
	}
	r.record(ctx, types.LedgerEntryTypeCreditRevoke, amount, reason, before, after)
	return after, nil
}

// SoftClose marks the account closed. The ledger is kept for history.
func (r *Registry) SoftClose(ctx context.Context, id string) (Ledger, error) {
	return r.Update(id, func(l *Ledger) error {
		_, open, _ := r.floating(id)
		if open > 0 || l.UsedMargin.IsPositive() {
			return ErrOpenExposure
		}
		l.Closed = true
		return nil
	})
}

func (r *Registry) Metrics(id string) (AccountMetrics, error) {
	l, err := r.Get(id)
	if err != nil {
		return AccountMetrics{}, err
	}
	floating, open, ok := r.floating(id)
	m := AccountMetrics{
		AccountID:     id,
		Balance:       l.WalletBalance,
		Credit:        l.CreditBalance,
		Equity:        l.Equity(floating),
		Margin:        l.UsedMargin,
		FreeMargin:    l.FreeMargin(floating),
		Withdrawable:  l.Withdrawable(),
		BuyingPower:   l.BuyingPower(floating),
		PnL:           floating,
		OpenPositions: open,
		Priced:        ok,
	}
	if level, bounded := l.MarginLevel(floating); bounded {
		m.MarginLevel = &level
	}
	return m, nil
}

func (r *Registry) floating(id string) (decimal.Decimal, int, bool) {
	if r.exposure == nil {
		return decimal.Zero, 0, true
	}
	return r.exposure.Floating(id)
}

func (r *Registry) record(ctx context.Context, typ types.LedgerEntryType, amount decimal.Decimal, reason string, before, after Ledger) {
	r.logger.Info("balance adjusted",
		zap.String("account_id", after.ID),
		zap.String("type", string(typ)),
		zap.String("amount", amount.String()),
		zap.String("reason", reason))
	if r.journal == nil {
		return
	}
	e := Entry{
		ID:           uuid.NewString(),
		AccountID:    after.ID,
		Type:         typ,
		Amount:       amount,
		Reason:       reason,
		WalletBefore: before.WalletBalance,
		WalletAfter:  after.WalletBalance,
		CreditBefore: before.CreditBalance,
		CreditAfter:  after.CreditBalance,
		At:           after.UpdatedAt,
	}
	if err := r.journal.RecordEntry(ctx, e); err != nil {
		r.logger.Error("journal entry failed", zap.String("account_id", after.ID), zap.Error(err))
	}
}
