package accounts

import (
	"errors"
	"net/http"
	"strings"

	"lv-margincore/internal/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	reg *Registry
}

func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID              string           `json:"id"`
		Leverage        int              `json:"leverage"`
		MarginCallLevel *decimal.Decimal `json:"margin_call_level"`
		StopOutLevel    *decimal.Decimal `json:"stop_out_level"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, err := h.reg.Open(r.Context(), OpenRequest{
		ID:              req.ID,
		Leverage:        req.Leverage,
		MarginCallLevel: req.MarginCallLevel,
		StopOutLevel:    req.StopOutLevel,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, acc)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]Ledger, 0)
	for _, id := range h.reg.IDs() {
		acc, err := h.reg.Get(id)
		if err != nil {
			continue
		}
		out = append(out, acc)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	acc, err := h.reg.Get(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.reg.Metrics(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, err := h.reg.Deposit(r.Context(), chi.URLParam(r, "accountID"), req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acc, err := h.reg.Withdraw(r.Context(), chi.URLParam(r, "accountID"), req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	acc, err := h.reg.SoftClose(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

// AdminCredit grants or revokes credit. It is mounted behind admin auth.
func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string          `json:"action"`
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	id := chi.URLParam(r, "accountID")
	var (
		acc Ledger
		err error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "grant":
		acc, err = h.reg.GrantCredit(r.Context(), id, req.Amount, req.Reason)
	case "revoke":
		acc, err = h.reg.RevokeCredit(r.Context(), id, req.Amount, req.Reason)
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "action must be grant or revoke"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrAccountExists), errors.Is(err, ErrOpenExposure):
		status = http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInsufficientCredit):
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
}
