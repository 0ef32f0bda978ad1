package orders

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrMarketClosed                 = errors.New("market is closed")
	ErrPriceUnavailable             = errors.New("price unavailable")
	ErrInsufficientFreeMargin       = errors.New("insufficient free margin")
	ErrInsufficientWalletForCharges = errors.New("insufficient wallet balance for charges")
	ErrImmediateMarginCall          = errors.New("order would open below the margin call level")
	ErrInvalidStopLevel             = errors.New("invalid stop level")
	ErrInvalidLeverage              = errors.New("invalid leverage")
	ErrInvalidLots                  = errors.New("invalid lots")
	ErrInvalidSide                  = errors.New("invalid side")
	ErrInvalidOrderKind             = errors.New("invalid order kind")
	ErrInvalidTrigger               = errors.New("invalid trigger price")
	ErrInstrumentInactive           = errors.New("instrument is not active")
	ErrInvalidScope                 = errors.New("invalid close scope; allowed: all, profit, loss")
	ErrAccountIDRequired            = errors.New("account_id is required")
)

// RejectError carries the numeric shortfall of a rejected order so the
// client can correct it.
type RejectError struct {
	Reason    error
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: required %s, available %s", e.Reason, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *RejectError) Unwrap() error {
	return e.Reason
}

func reject(reason error, required, available decimal.Decimal) error {
	return &RejectError{Reason: reason, Required: required, Available: available}
}

// rejectLabel is the metrics label of a rejection.
func rejectLabel(err error) string {
	switch {
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrInsufficientFreeMargin):
		return "insufficient_free_margin"
	case errors.Is(err, ErrInsufficientWalletForCharges):
		return "insufficient_wallet"
	case errors.Is(err, ErrImmediateMarginCall):
		return "immediate_margin_call"
	case errors.Is(err, ErrInvalidStopLevel):
		return "invalid_stop_level"
	case errors.Is(err, ErrInvalidLeverage):
		return "invalid_leverage"
	}
	return "invalid_request"
}
