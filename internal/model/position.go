package model

import (
	"time"

	"lv-margincore/internal/types"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID           string               `json:"id"`
	AccountID    string               `json:"account_id"`
	Instrument   string               `json:"instrument"`
	Side         types.PositionSide   `json:"side"`
	Kind         types.OrderKind      `json:"kind"`
	Status       types.PositionStatus `json:"status"`
	Lots         decimal.Decimal      `json:"lots"`
	ContractSize decimal.Decimal      `json:"contract_size"`
	EntryPrice   decimal.Decimal      `json:"entry_price"`
	TriggerPrice *decimal.Decimal     `json:"trigger_price,omitempty"`
	Leverage     int                  `json:"leverage"`
	StopLoss     *decimal.Decimal     `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal     `json:"take_profit,omitempty"`
	MarginHeld   decimal.Decimal      `json:"margin_held"`
	Commission   decimal.Decimal      `json:"commission"`
	CloseReason  types.CloseReason    `json:"close_reason,omitempty"`
	ClosePrice   *decimal.Decimal     `json:"close_price,omitempty"`
	RealizedPnL  *decimal.Decimal     `json:"realized_pnl,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	OpenedAt     time.Time            `json:"opened_at"`
	ClosedAt     *time.Time           `json:"closed_at,omitempty"`
}

// Clone returns a copy that shares no pointers with p.
func (p Position) Clone() Position {
	out := p
	out.TriggerPrice = cloneDecimal(p.TriggerPrice)
	out.StopLoss = cloneDecimal(p.StopLoss)
	out.TakeProfit = cloneDecimal(p.TakeProfit)
	out.ClosePrice = cloneDecimal(p.ClosePrice)
	out.RealizedPnL = cloneDecimal(p.RealizedPnL)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

func cloneDecimal(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
