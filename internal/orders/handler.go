package orders

import (
	"errors"
	"net/http"
	"strings"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/contracts"
	"lv-margincore/internal/httputil"
	"lv-margincore/internal/positions"
	"lv-margincore/internal/settlement"
	"lv-margincore/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	exec *Executor
}

func NewHandler(exec *Executor) *Handler {
	return &Handler{exec: exec}
}

type placeOrderRequest struct {
	AccountID  string           `json:"account_id"`
	Instrument string           `json:"instrument"`
	Side       string           `json:"side"`
	Lots       decimal.Decimal  `json:"lots"`
	Leverage   int              `json:"leverage"`
	StopLoss   *decimal.Decimal `json:"stop_loss"`
	TakeProfit *decimal.Decimal `json:"take_profit"`
	Kind       string           `json:"kind"`
	Trigger    *decimal.Decimal `json:"trigger"`
}

func (req placeOrderRequest) order() OrderRequest {
	return OrderRequest{
		AccountID:  strings.TrimSpace(req.AccountID),
		Instrument: req.Instrument,
		Side:       types.PositionSide(strings.ToLower(strings.TrimSpace(req.Side))),
		Lots:       req.Lots,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.AccountID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "account_id is required"})
		return
	}
	pos, err := h.exec.OpenMarket(r.Context(), req.order())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, pos)
}

func (h *Handler) PlacePending(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.AccountID == "" || req.Trigger == nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "account_id and trigger are required"})
		return
	}
	pos, err := h.exec.PlacePending(r.Context(), PendingRequest{
		OrderRequest: req.order(),
		Kind:         types.OrderKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Trigger:      *req.Trigger,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, pos)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: ErrAccountIDRequired.Error()})
		return
	}
	receipt, err := h.exec.CancelPending(r.Context(), accountID, chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: ErrAccountIDRequired.Error()})
		return
	}
	receipt, err := h.exec.ClosePosition(r.Context(), accountID, chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, receipt)
}

func (h *Handler) CloseByScope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope string `json:"scope"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := h.exec.CloseByScope(r.Context(), chi.URLParam(r, "accountID"), req.Scope)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := types.PositionStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	list, err := h.exec.Positions(chi.URLParam(r, "accountID"), status)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func writeError(w http.ResponseWriter, err error) {
	var rej *RejectError
	if errors.As(err, &rej) {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{
			Error:     rej.Reason.Error(),
			Required:  rej.Required.StringFixed(2),
			Available: rej.Available.StringFixed(2),
		})
		return
	}
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound), errors.Is(err, positions.ErrPositionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, contracts.ErrUnknownInstrument):
		status = http.StatusNotFound
	case errors.Is(err, ErrMarketClosed), errors.Is(err, ErrPriceUnavailable),
		errors.Is(err, settlement.ErrPositionNotOpen), errors.Is(err, settlement.ErrPositionNotPending),
		errors.Is(err, accounts.ErrAccountClosed):
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
}
