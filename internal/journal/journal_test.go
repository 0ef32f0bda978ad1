package journal

import (
	"context"
	"testing"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/settlement"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJournalChainsRecords(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordEntry(ctx, accounts.Entry{
		ID: "e1", AccountID: "acc", Type: types.LedgerEntryTypeCreditGrant,
		Amount: decimal.NewFromInt(500), Reason: "promo", At: at,
	}))
	require.NoError(t, j.RecordReceipt(ctx, settlement.Receipt{
		ID: "r1", AccountID: "acc", PositionID: "p1",
		RawPnL: decimal.NewFromInt(-800), FinalPnL: decimal.NewFromInt(-800),
		Breakdown: accounts.PnLBreakdown{
			WalletDeducted: decimal.NewFromInt(300),
			Unrecovered:    decimal.NewFromInt(500),
		},
		At: at,
	}))
	require.NoError(t, j.RecordEntry(ctx, accounts.Entry{
		ID: "e2", AccountID: "other", Type: types.LedgerEntryTypeWithdraw,
		Amount: decimal.NewFromInt(40), At: at,
	}))

	all := j.All()
	require.Len(t, all, 3)
	assert.Empty(t, all[0].PrevHash)
	assert.Equal(t, all[0].Hash, all[1].PrevHash)
	assert.True(t, all[2].Amount.Equal(decimal.NewFromInt(-40)))
	require.NoError(t, Verify(all))

	entries, err := j.Entries(ctx, "acc", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.LedgerEntryTypeSettlement, entries[0].Type)
	assert.Equal(t, "p1", entries[0].Ref)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(-300)))
}

func TestVerifyDetectsTampering(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, j.RecordEntry(ctx, accounts.Entry{
			ID: "e" + string(rune('a'+i)), AccountID: "acc",
			Type: types.LedgerEntryTypeDeposit, Amount: decimal.NewFromInt(10),
		}))
	}
	all := j.All()
	all[1].Amount = decimal.NewFromInt(1000)
	assert.ErrorIs(t, Verify(all), ErrBrokenChain)
}
