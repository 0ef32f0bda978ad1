package marketdata

import (
	"errors"
	"strings"
	"sync"
	"time"

	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

var ErrInvalidTick = errors.New("invalid tick: bid and ask must be positive and ask >= bid")

// Tick is one inbound bid/ask update from the external feed.
type Tick struct {
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Timestamp  time.Time
}

type Quote struct {
	Instrument string          `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Timestamp  time.Time       `json:"ts"`
}

// EntryPrice is the side of the book a new position fills against.
func (q Quote) EntryPrice(side types.PositionSide) decimal.Decimal {
	if side == types.PositionSideSell {
		return q.Bid
	}
	return q.Ask
}

// ExitPrice is the side of the book an open position closes against.
func (q Quote) ExitPrice(side types.PositionSide) decimal.Decimal {
	if side == types.PositionSideSell {
		return q.Ask
	}
	return q.Bid
}

// Prices is the read-only view of latest quotes used by the core.
type Prices interface {
	Quote(instrument string) (Quote, bool)
}

// Snapshot is a fixed set of quotes, taken once per scan cycle.
type Snapshot map[string]Quote

func (s Snapshot) Quote(instrument string) (Quote, bool) {
	q, ok := s[instrument]
	return q, ok
}

// PriceCache keeps the latest quote per instrument.
type PriceCache struct {
	mu   sync.RWMutex
	data map[string]Quote
	bus  *Bus
	now  func() time.Time
}

func NewPriceCache(bus *Bus) *PriceCache {
	return &PriceCache{data: map[string]Quote{}, bus: bus, now: time.Now}
}

// Update stores t unless a newer quote is already cached.
// It reports whether the cache changed.
func (c *PriceCache) Update(t Tick) (bool, error) {
	instrument := NormalizeInstrument(t.Instrument)
	if instrument == "" || !t.Bid.IsPositive() || !t.Ask.IsPositive() || t.Ask.LessThan(t.Bid) {
		return false, ErrInvalidTick
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	q := Quote{Instrument: instrument, Bid: t.Bid, Ask: t.Ask, Timestamp: ts.UTC()}

	c.mu.Lock()
	if prev, ok := c.data[instrument]; ok && prev.Timestamp.After(q.Timestamp) {
		c.mu.Unlock()
		return false, nil
	}
	c.data[instrument] = q
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(Event{Type: "quote", Data: q})
	}
	return true, nil
}

func (c *PriceCache) Quote(instrument string) (Quote, bool) {
	c.mu.RLock()
	q, ok := c.data[NormalizeInstrument(instrument)]
	c.mu.RUnlock()
	return q, ok
}

func (c *PriceCache) Snapshot() Snapshot {
	c.mu.RLock()
	out := make(Snapshot, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	c.mu.RUnlock()
	return out
}

func NormalizeInstrument(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
