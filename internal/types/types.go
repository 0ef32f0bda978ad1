package types

type PositionSide string

type OrderKind string

type PositionStatus string

type CloseReason string

type LedgerEntryType string

type InstrumentClass string

const (
	PositionSideBuy  PositionSide = "buy"
	PositionSideSell PositionSide = "sell"
)

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
	OrderKindStop   OrderKind = "stop"
)

const (
	PositionStatusPending   PositionStatus = "pending"
	PositionStatusOpen      PositionStatus = "open"
	PositionStatusClosed    PositionStatus = "closed"
	PositionStatusCancelled PositionStatus = "cancelled"
)

const (
	CloseReasonNone       CloseReason = ""
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopOut    CloseReason = "stop_out"
	CloseReasonCancelled  CloseReason = "cancelled"
)

const (
	LedgerEntryTypeDeposit      LedgerEntryType = "deposit"
	LedgerEntryTypeWithdraw     LedgerEntryType = "withdraw"
	LedgerEntryTypeCommission   LedgerEntryType = "commission"
	LedgerEntryTypeSettlement   LedgerEntryType = "settlement"
	LedgerEntryTypeCreditGrant  LedgerEntryType = "credit_grant"
	LedgerEntryTypeCreditRevoke LedgerEntryType = "credit_revoke"
)

const (
	InstrumentClassForex  InstrumentClass = "forex"
	InstrumentClassCrypto InstrumentClass = "crypto"
	InstrumentClassMetal  InstrumentClass = "metal"
)

// Sign returns +1 for buy and -1 for sell.
func (s PositionSide) Sign() int64 {
	if s == PositionSideSell {
		return -1
	}
	return 1
}

func (s PositionSide) Valid() bool {
	return s == PositionSideBuy || s == PositionSideSell
}

// Terminal reports whether no further transition is allowed.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusCancelled
}
