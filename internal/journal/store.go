package journal

import (
	"context"
	"errors"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/settlement"
	"lv-margincore/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `create table if not exists journal_entries (
	sequence bigserial primary key,
	id text not null unique,
	account_id text not null,
	entry_type text not null,
	amount numeric not null,
	ref text not null default '',
	payload jsonb,
	prev_hash bytea,
	hash bytea,
	created_at timestamptz not null
);
create index if not exists journal_entries_account_idx on journal_entries (account_id, sequence desc);`

// PGJournal appends records to postgres. Appends are serialized with a
// transaction scoped advisory lock so the chain has a single tail.
type PGJournal struct {
	pool *pgxpool.Pool
}

func NewPGJournal(pool *pgxpool.Pool) *PGJournal {
	return &PGJournal{pool: pool}
}

func (j *PGJournal) EnsureSchema(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, schema)
	return err
}

func (j *PGJournal) RecordReceipt(ctx context.Context, r settlement.Receipt) error {
	rec, err := fromReceipt(r)
	if err != nil {
		return err
	}
	return j.append(ctx, rec)
}

func (j *PGJournal) RecordEntry(ctx context.Context, e accounts.Entry) error {
	rec, err := fromEntry(e)
	if err != nil {
		return err
	}
	return j.append(ctx, rec)
}

func (j *PGJournal) append(ctx context.Context, rec Record) error {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "select pg_advisory_xact_lock(7301)"); err != nil {
		return err
	}
	var prevHash *string
	err = tx.QueryRow(ctx, "select encode(hash, 'hex') from journal_entries order by sequence desc limit 1").Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if prevHash != nil {
		rec.PrevHash = *prevHash
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	err = tx.QueryRow(ctx,
		"insert into journal_entries (id, account_id, entry_type, amount, ref, payload, prev_hash, created_at) values ($1, $2, $3, $4, $5, $6, decode(nullif($7,''), 'hex'), $8) returning sequence",
		rec.ID, rec.AccountID, string(rec.Type), rec.Amount, rec.Ref, []byte(rec.Payload), rec.PrevHash, rec.At,
	).Scan(&rec.Sequence)
	if err != nil {
		return err
	}
	rec.Hash = computeHash(rec)
	if _, err := tx.Exec(ctx, "update journal_entries set hash = decode($1, 'hex') where sequence = $2", rec.Hash, rec.Sequence); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (j *PGJournal) Entries(ctx context.Context, accountID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.pool.Query(ctx,
		"select sequence, id, account_id, entry_type, amount, ref, payload, coalesce(encode(prev_hash, 'hex'), ''), coalesce(encode(hash, 'hex'), ''), created_at from journal_entries where account_id = $1 order by sequence desc limit $2",
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var entryType string
		var payload []byte
		if err := rows.Scan(&rec.Sequence, &rec.ID, &rec.AccountID, &entryType, &rec.Amount, &rec.Ref, &payload, &rec.PrevHash, &rec.Hash, &rec.At); err != nil {
			return nil, err
		}
		rec.Type = types.LedgerEntryType(entryType)
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}
