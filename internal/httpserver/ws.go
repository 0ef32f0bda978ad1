package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/marketdata"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 5 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 50 * time.Second
	metricsThrottle  = 200 * time.Millisecond
	eventAccountView = "account_metrics"
)

// EventsWS streams bus events to internal consumers. With account_id set,
// only that account's events are sent; quotes can be narrowed with
// instruments=EURUSD,XAUUSD.
type EventsWS struct {
	bus      *marketdata.Bus
	accounts *accounts.Registry
	upgrader websocket.Upgrader
}

func NewEventsWS(bus *marketdata.Bus, reg *accounts.Registry, origin string) *EventsWS {
	return &EventsWS{
		bus:      bus,
		accounts: reg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
		},
	}
}

type wsControlMessage struct {
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"`
}

type wsFilter struct {
	accountID   string
	instruments map[string]bool
	quotes      bool
}

func parseFilter(r *http.Request) wsFilter {
	q := r.URL.Query()
	f := wsFilter{accountID: strings.TrimSpace(q.Get("account_id")), quotes: q.Get("quotes") != "0"}
	if raw := strings.TrimSpace(q.Get("instruments")); raw != "" {
		f.instruments = map[string]bool{}
		for _, s := range strings.Split(raw, ",") {
			if s = marketdata.NormalizeInstrument(s); s != "" {
				f.instruments[s] = true
			}
		}
	}
	return f
}

func (f wsFilter) wants(evt marketdata.Event) bool {
	if evt.Type == "quote" {
		if !f.quotes {
			return false
		}
		if f.instruments == nil {
			return true
		}
		q, ok := evt.Data.(marketdata.Quote)
		return ok && f.instruments[q.Instrument]
	}
	return f.accountID == "" || evt.AccountID == f.accountID
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "*" {
		return true
	}
	reqOrigin := r.Header.Get("Origin")
	return reqOrigin == "" || strings.EqualFold(reqOrigin, origin)
}

func (h *EventsWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	var metricsEnabled atomic.Bool
	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ctrl wsControlMessage
			if err := json.Unmarshal(payload, &ctrl); err != nil {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(ctrl.Type)) {
			case "account_metrics_subscribe":
				metricsEnabled.Store(ctrl.Enabled == nil || *ctrl.Enabled)
			case "account_metrics_unsubscribe":
				metricsEnabled.Store(false)
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	var lastMetricsAt time.Time
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if !filter.wants(evt) {
				continue
			}
			if err := write(evt); err != nil {
				return
			}
			if evt.Type != "quote" || filter.accountID == "" || h.accounts == nil || !metricsEnabled.Load() {
				continue
			}
			if !lastMetricsAt.IsZero() && time.Since(lastMetricsAt) < metricsThrottle {
				continue
			}
			m, err := h.accounts.Metrics(filter.accountID)
			if err != nil {
				continue
			}
			if err := write(marketdata.Event{Type: eventAccountView, AccountID: filter.accountID, Data: m}); err != nil {
				return
			}
			lastMetricsAt = time.Now()
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
