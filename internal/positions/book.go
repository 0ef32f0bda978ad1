// Package positions keeps every position the core knows about and values
// them against market prices.
package positions

import (
	"errors"
	"sort"
	"sync"

	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/model"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

var ErrPositionNotFound = errors.New("position not found")

// Book stores positions by id. Stored values are copies so callers can
// never mutate book state through a returned position.
type Book struct {
	mu        sync.RWMutex
	byID      map[string]model.Position
	byAccount map[string]map[string]struct{}
}

func NewBook() *Book {
	return &Book{
		byID:      make(map[string]model.Position),
		byAccount: make(map[string]map[string]struct{}),
	}
}

func (b *Book) Put(p model.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byID[p.ID] = p.Clone()
	ids, ok := b.byAccount[p.AccountID]
	if !ok {
		ids = make(map[string]struct{})
		b.byAccount[p.AccountID] = ids
	}
	ids[p.ID] = struct{}{}
}

func (b *Book) Get(id string) (model.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.byID[id]
	if !ok {
		return model.Position{}, ErrPositionNotFound
	}
	return p.Clone(), nil
}

// OpenPositions returns the open positions of an account ordered by
// OpenedAt then id.
func (b *Book) OpenPositions(accountID string) []model.Position {
	return b.byStatus(accountID, types.PositionStatusOpen)
}

// Pending returns the pending orders of an account ordered by creation.
func (b *Book) Pending(accountID string) []model.Position {
	return b.byStatus(accountID, types.PositionStatusPending)
}

// History returns every position of an account, newest first.
func (b *Book) History(accountID string) []model.Position {
	b.mu.RLock()
	out := make([]model.Position, 0, len(b.byAccount[accountID]))
	for id := range b.byAccount[accountID] {
		out = append(out, b.byID[id].Clone())
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (b *Book) byStatus(accountID string, status types.PositionStatus) []model.Position {
	b.mu.RLock()
	out := make([]model.Position, 0)
	for id := range b.byAccount[accountID] {
		p := b.byID[id]
		if p.Status == status {
			out = append(out, p.Clone())
		}
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return earlier(out[i], out[j])
	})
	return out
}

// earlier orders by OpenedAt (CreatedAt for pending orders) then id.
func earlier(a, b model.Position) bool {
	ta, tb := a.OpenedAt, b.OpenedAt
	if ta.IsZero() || tb.IsZero() {
		ta, tb = a.CreatedAt, b.CreatedAt
	}
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.ID < b.ID
}

// FloatingPnL is the unrealized P/L of p if it were closed at price.
func FloatingPnL(p model.Position, price decimal.Decimal) decimal.Decimal {
	sign := decimal.NewFromInt(p.Side.Sign())
	return price.Sub(p.EntryPrice).Mul(sign).Mul(p.Lots).Mul(p.ContractSize)
}

// Valuation is the mark of one open position.
type Valuation struct {
	Position model.Position
	Price    decimal.Decimal
	PnL      decimal.Decimal
}

// Value marks every open position of the account at its exit price.
// Positions without a price are returned in missing.
func (b *Book) Value(accountID string, prices marketdata.Prices) (marked []Valuation, missing []model.Position) {
	for _, p := range b.OpenPositions(accountID) {
		q, ok := prices.Quote(p.Instrument)
		if !ok {
			missing = append(missing, p)
			continue
		}
		price := q.ExitPrice(p.Side)
		marked = append(marked, Valuation{Position: p, Price: price, PnL: FloatingPnL(p, price)})
	}
	return marked, missing
}

// AccountFloating sums the floating P/L of the account. ok is false when
// any open position could not be priced.
func (b *Book) AccountFloating(accountID string, prices marketdata.Prices) (pnl decimal.Decimal, open int, ok bool) {
	marked, missing := b.Value(accountID, prices)
	pnl = decimal.Zero
	for _, v := range marked {
		pnl = pnl.Add(v.PnL)
	}
	return pnl, len(marked) + len(missing), len(missing) == 0
}

// WorstLosing picks the priced open position with the lowest P/L, so a
// profitable position is only chosen once no losing one is left. Ties go
// to the earliest OpenedAt, then the lowest id. ok is false when no open
// position is priced.
func (b *Book) WorstLosing(accountID string, prices marketdata.Prices) (Valuation, bool) {
	marked, _ := b.Value(accountID, prices)
	var (
		worst Valuation
		found bool
	)
	for _, v := range marked {
		if !found || v.PnL.LessThan(worst.PnL) || (v.PnL.Equal(worst.PnL) && earlier(v.Position, worst.Position)) {
			worst = v
			found = true
		}
	}
	return worst, found
}

// AccountsWithExposure lists accounts holding open or pending positions.
func (b *Book) AccountsWithExposure() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.byAccount))
	for accountID, ids := range b.byAccount {
		for id := range ids {
			if !b.byID[id].Status.Terminal() {
				out = append(out, accountID)
				break
			}
		}
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Exposure adapts a Book and a price source to the account Exposure view.
type Exposure struct {
	Book   *Book
	Prices marketdata.Prices
}

func (e Exposure) Floating(accountID string) (decimal.Decimal, int, bool) {
	return e.Book.AccountFloating(accountID, e.Prices)
}
