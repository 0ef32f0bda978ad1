package contracts

import (
	"errors"
	"sort"
	"sync"
	"time"

	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// Spec holds the static facts of one tradable instrument.
type Spec struct {
	Symbol       string                `json:"symbol"`
	Class        types.InstrumentClass `json:"class"`
	ContractSize decimal.Decimal       `json:"contract_size"`
	PipSize      decimal.Decimal       `json:"pip_size"`
	MinLot       decimal.Decimal       `json:"min_lot"`
	MaxLot       decimal.Decimal       `json:"max_lot"`
	Active       bool                  `json:"active"`
}

func (s Spec) validate() error {
	if s.Symbol == "" {
		return errors.New("contract symbol is required")
	}
	if !s.ContractSize.IsPositive() || !s.PipSize.IsPositive() {
		return errors.New("contract " + s.Symbol + ": contract_size and pip_size must be positive")
	}
	switch s.Class {
	case types.InstrumentClassForex, types.InstrumentClassCrypto, types.InstrumentClassMetal:
	default:
		return errors.New("contract " + s.Symbol + ": unsupported class " + string(s.Class))
	}
	return nil
}

// MarketOpen reports whether the instrument trades at t. Crypto trades
// around the clock; everything else is closed from Friday 22:00 UTC to
// Sunday 22:00 UTC.
func (s Spec) MarketOpen(t time.Time) bool {
	if s.Class == types.InstrumentClassCrypto {
		return true
	}
	u := t.UTC()
	switch u.Weekday() {
	case time.Saturday:
		return false
	case time.Friday:
		return u.Hour() < 22
	case time.Sunday:
		return u.Hour() >= 22
	}
	return true
}

// Table is the read-mostly contract table.
type Table struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewTable(specs ...Spec) (*Table, error) {
	t := &Table{specs: make(map[string]Spec, len(specs))}
	if err := t.Replace(specs); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace swaps the whole table after validating every entry.
func (t *Table) Replace(specs []Spec) error {
	next := make(map[string]Spec, len(specs))
	for _, s := range specs {
		s.Symbol = marketdata.NormalizeInstrument(s.Symbol)
		if err := s.validate(); err != nil {
			return err
		}
		next[s.Symbol] = s
	}
	t.mu.Lock()
	t.specs = next
	t.mu.Unlock()
	return nil
}

func (t *Table) Get(symbol string) (Spec, error) {
	t.mu.RLock()
	s, ok := t.specs[marketdata.NormalizeInstrument(symbol)]
	t.mu.RUnlock()
	if !ok {
		return Spec{}, ErrUnknownInstrument
	}
	return s, nil
}

func (t *Table) IsMarketOpen(symbol string, at time.Time) bool {
	s, err := t.Get(symbol)
	if err != nil || !s.Active {
		return false
	}
	return s.MarketOpen(at)
}

func (t *Table) All() []Spec {
	t.mu.RLock()
	out := make([]Spec, 0, len(t.specs))
	for _, s := range t.specs {
		out = append(out, s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Defaults is the built-in table used when no file or database is configured.
func Defaults() []Spec {
	lot := func(min, max string) (decimal.Decimal, decimal.Decimal) {
		return decimal.RequireFromString(min), decimal.RequireFromString(max)
	}
	fxMin, fxMax := lot("0.01", "100")
	cryptoMin, cryptoMax := lot("0.01", "50")
	return []Spec{
		{Symbol: "EURUSD", Class: types.InstrumentClassForex, ContractSize: decimal.NewFromInt(100000), PipSize: decimal.RequireFromString("0.0001"), MinLot: fxMin, MaxLot: fxMax, Active: true},
		{Symbol: "GBPUSD", Class: types.InstrumentClassForex, ContractSize: decimal.NewFromInt(100000), PipSize: decimal.RequireFromString("0.0001"), MinLot: fxMin, MaxLot: fxMax, Active: true},
		{Symbol: "USDJPY", Class: types.InstrumentClassForex, ContractSize: decimal.NewFromInt(100000), PipSize: decimal.RequireFromString("0.01"), MinLot: fxMin, MaxLot: fxMax, Active: true},
		{Symbol: "XAUUSD", Class: types.InstrumentClassMetal, ContractSize: decimal.NewFromInt(100), PipSize: decimal.RequireFromString("0.01"), MinLot: fxMin, MaxLot: fxMax, Active: true},
		{Symbol: "BTCUSD", Class: types.InstrumentClassCrypto, ContractSize: decimal.NewFromInt(1), PipSize: decimal.RequireFromString("0.01"), MinLot: cryptoMin, MaxLot: cryptoMax, Active: true},
		{Symbol: "ETHUSD", Class: types.InstrumentClassCrypto, ContractSize: decimal.NewFromInt(1), PipSize: decimal.RequireFromString("0.01"), MinLot: cryptoMin, MaxLot: cryptoMax, Active: true},
	}
}
