package marketdata

import (
	"net/http"
	"sort"
	"time"

	"lv-margincore/internal/httputil"

	"github.com/shopspring/decimal"
)

type Handler struct {
	cache *PriceCache
}

func NewHandler(cache *PriceCache) *Handler {
	return &Handler{cache: cache}
}

type tickRequest struct {
	Instrument string `json:"instrument"`
	Bid        string `json:"bid"`
	Ask        string `json:"ask"`
	Timestamp  int64  `json:"ts"`
}

// Tick accepts one price update from the external feed.
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	bid, err := decimal.NewFromString(req.Bid)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid bid"})
		return
	}
	ask, err := decimal.NewFromString(req.Ask)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid ask"})
		return
	}
	var ts time.Time
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}
	applied, err := h.cache.Update(Tick{Instrument: req.Instrument, Bid: bid, Ask: ask, Timestamp: ts})
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"applied": applied})
}

func (h *Handler) Quotes(w http.ResponseWriter, r *http.Request) {
	snap := h.cache.Snapshot()
	out := make([]Quote, 0, len(snap))
	for _, q := range snap {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	httputil.WriteJSON(w, http.StatusOK, out)
}
