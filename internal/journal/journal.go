// Package journal keeps the append-only audit trail of balance changes.
// Every record carries the hash of its predecessor, so any edit to the
// history breaks the chain.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/settlement"
	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

var ErrBrokenChain = errors.New("journal hash chain is broken")

type Record struct {
	Sequence  int64                 `json:"sequence"`
	ID        string                `json:"id"`
	AccountID string                `json:"account_id"`
	Type      types.LedgerEntryType `json:"type"`
	Amount    decimal.Decimal       `json:"amount"`
	Ref       string                `json:"ref,omitempty"`
	Payload   json.RawMessage       `json:"payload,omitempty"`
	PrevHash  string                `json:"prev_hash,omitempty"`
	Hash      string                `json:"hash"`
	At        time.Time             `json:"at"`
}

// Reader lists the records of one account, newest first.
type Reader interface {
	Entries(ctx context.Context, accountID string, limit int) ([]Record, error)
}

func fromReceipt(r settlement.Receipt) (Record, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:        r.ID,
		AccountID: r.AccountID,
		Type:      types.LedgerEntryTypeSettlement,
		Amount:    r.Breakdown.WalletDelta(),
		Ref:       r.PositionID,
		Payload:   payload,
		At:        r.At,
	}, nil
}

func fromEntry(e accounts.Entry) (Record, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, err
	}
	amount := e.Amount
	switch e.Type {
	case types.LedgerEntryTypeWithdraw, types.LedgerEntryTypeCreditRevoke, types.LedgerEntryTypeCommission:
		amount = amount.Neg()
	}
	return Record{
		ID:        e.ID,
		AccountID: e.AccountID,
		Type:      e.Type,
		Amount:    amount,
		Ref:       e.Reason,
		Payload:   payload,
		At:        e.At,
	}, nil
}

func computeHash(r Record) string {
	buf := r.ID + "|" + r.AccountID + "|" + r.Amount.String() + "|" + string(r.Type) + "|" + r.Ref + "|" + strconv.FormatInt(r.Sequence, 10) + "|" + r.PrevHash
	sum := sha256.Sum256([]byte(buf))
	return hex.EncodeToString(sum[:])
}

// Verify checks that records, in sequence order, form an unbroken chain.
func Verify(records []Record) error {
	prev := ""
	for _, r := range records {
		if r.PrevHash != prev || computeHash(r) != r.Hash {
			return ErrBrokenChain
		}
		prev = r.Hash
	}
	return nil
}

// MemoryJournal is used when no database is configured.
type MemoryJournal struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) RecordReceipt(_ context.Context, r settlement.Receipt) error {
	rec, err := fromReceipt(r)
	if err != nil {
		return err
	}
	j.append(rec)
	return nil
}

func (j *MemoryJournal) RecordEntry(_ context.Context, e accounts.Entry) error {
	rec, err := fromEntry(e)
	if err != nil {
		return err
	}
	j.append(rec)
	return nil
}

func (j *MemoryJournal) append(rec Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec.Sequence = int64(len(j.records) + 1)
	if n := len(j.records); n > 0 {
		rec.PrevHash = j.records[n-1].Hash
	}
	rec.Hash = computeHash(rec)
	j.records = append(j.records, rec)
}

func (j *MemoryJournal) Entries(_ context.Context, accountID string, limit int) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, 0)
	for i := len(j.records) - 1; i >= 0; i-- {
		if j.records[i].AccountID != accountID {
			continue
		}
		out = append(out, j.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns every record in sequence order.
func (j *MemoryJournal) All() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, len(j.records))
	copy(out, j.records)
	return out
}
