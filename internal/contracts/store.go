package contracts

import (
	"context"
	"fmt"
	"strings"

	"lv-margincore/internal/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store reads contract specs from the trading_pairs table.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) LoadAll(ctx context.Context) ([]Spec, error) {
	rows, err := s.pool.Query(ctx, `
		select symbol, class, contract_size::text, pip_size::text, min_lot::text, max_lot::text, status
		from trading_pairs
		order by symbol asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Spec
	for rows.Next() {
		var symbol, class, contractSize, pipSize, minLot, maxLot, status string
		if err := rows.Scan(&symbol, &class, &contractSize, &pipSize, &minLot, &maxLot, &status); err != nil {
			return nil, err
		}
		spec, err := buildSpec(symbol, class, contractSize, pipSize, minLot, maxLot, status)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, rows.Err()
}

func buildSpec(symbol, class, contractSize, pipSize, minLot, maxLot, status string) (Spec, error) {
	spec := Spec{
		Symbol: strings.ToUpper(strings.TrimSpace(symbol)),
		Class:  types.InstrumentClass(strings.ToLower(strings.TrimSpace(class))),
		Active: status == "" || strings.EqualFold(strings.TrimSpace(status), "active"),
	}
	var err error
	if spec.ContractSize, err = decimal.NewFromString(strings.TrimSpace(contractSize)); err != nil {
		return Spec{}, fmt.Errorf("contract %s: invalid contract_size: %w", spec.Symbol, err)
	}
	if spec.PipSize, err = decimal.NewFromString(strings.TrimSpace(pipSize)); err != nil {
		return Spec{}, fmt.Errorf("contract %s: invalid pip_size: %w", spec.Symbol, err)
	}
	spec.MinLot = optionalDecimal(minLot, decimal.RequireFromString("0.01"))
	spec.MaxLot = optionalDecimal(maxLot, decimal.Zero)
	if err := spec.validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func optionalDecimal(raw string, def decimal.Decimal) decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !v.IsPositive() {
		return def
	}
	return v
}
