package contracts

import (
	"testing"
	"time"

	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketHoursForex(t *testing.T) {
	spec := Spec{Symbol: "EURUSD", Class: types.InstrumentClassForex}

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"friday before close", time.Date(2026, 10, 16, 21, 59, 0, 0, time.UTC), true},
		{"friday at close", time.Date(2026, 10, 16, 22, 0, 0, 0, time.UTC), false},
		{"saturday", time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC), false},
		{"sunday before open", time.Date(2026, 10, 18, 21, 59, 0, 0, time.UTC), false},
		{"sunday at open", time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC), true},
		{"wednesday", time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.open, spec.MarketOpen(tc.at))
		})
	}
}

func TestMarketHoursUsesUTC(t *testing.T) {
	spec := Spec{Symbol: "EURUSD", Class: types.InstrumentClassForex}
	tz := time.FixedZone("UTC+5", 5*3600)
	// Saturday 02:00 local is Friday 21:00 UTC.
	assert.True(t, spec.MarketOpen(time.Date(2026, 10, 17, 2, 0, 0, 0, tz)))
}

func TestCryptoAlwaysOpen(t *testing.T) {
	spec := Spec{Symbol: "BTCUSD", Class: types.InstrumentClassCrypto}
	assert.True(t, spec.MarketOpen(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)))
}

func TestTableLookup(t *testing.T) {
	table, err := NewTable(Defaults()...)
	require.NoError(t, err)

	spec, err := table.Get("eurusd")
	require.NoError(t, err)
	assert.True(t, spec.ContractSize.Equal(decimal.NewFromInt(100000)))

	_, err = table.Get("NOPE")
	assert.ErrorIs(t, err, ErrUnknownInstrument)
	assert.False(t, table.IsMarketOpen("NOPE", time.Now()))
}

func TestTableRejectsInvalidSpec(t *testing.T) {
	_, err := NewTable(Spec{Symbol: "BAD", Class: types.InstrumentClassForex, ContractSize: decimal.Zero, PipSize: decimal.NewFromInt(1)})
	require.Error(t, err)
}

func TestParseFile(t *testing.T) {
	raw := []byte(`
instruments:
  - symbol: eurusd
    class: forex
    contract_size: "100000"
    pip_size: "0.0001"
  - symbol: BTCUSD
    class: crypto
    contract_size: "1"
    pip_size: "0.01"
    status: disabled
`)
	specs, err := parseFile(raw)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "EURUSD", specs[0].Symbol)
	assert.True(t, specs[0].Active)
	assert.True(t, specs[0].MinLot.Equal(decimal.RequireFromString("0.01")))
	assert.False(t, specs[1].Active)
}
