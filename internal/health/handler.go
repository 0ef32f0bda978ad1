package health

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/httputil"
	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/positions"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Handler struct {
	pool      *pgxpool.Pool
	accounts  *accounts.Registry
	book      *positions.Book
	prices    *marketdata.PriceCache
	startedAt time.Time
	httpAddr  string
}

// NewHandler accepts a nil pool; the core then runs on in-memory state only.
func NewHandler(pool *pgxpool.Pool, reg *accounts.Registry, book *positions.Book, prices *marketdata.PriceCache, startedAt time.Time, httpAddr string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		pool:      pool,
		accounts:  reg,
		book:      book,
		prices:    prices,
		startedAt: start,
		httpAddr:  strings.TrimSpace(httpAddr),
	}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

type readinessResponse struct {
	liveResponse
	Database databaseStats `json:"database"`
}

type databaseStats struct {
	Configured bool      `json:"configured"`
	Reachable  bool      `json:"reachable"`
	PingMs     int64     `json:"ping_ms"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  string    `json:"checked_at"`
	Pool       poolStats `json:"pool"`
	TimeoutSec int       `json:"timeout_sec"`
}

type poolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
}

type coreStats struct {
	Accounts          int `json:"accounts"`
	AccountsExposed   int `json:"accounts_with_exposure"`
	InstrumentsPriced int `json:"instruments_priced"`
}

type runtimeStats struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	GoMaxProcs int    `json:"gomaxprocs"`
	NumGC      uint32 `json:"num_gc"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
}

type fullResponse struct {
	liveResponse
	HTTPAddr string        `json:"http_addr"`
	PID      int           `json:"pid"`
	Hostname string        `json:"hostname"`
	Core     coreStats     `json:"core"`
	Runtime  runtimeStats  `json:"runtime"`
	Database databaseStats `json:"database"`
	Version  string        `json:"version,omitempty"`
}

func (h *Handler) live(now time.Time) liveResponse {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		uptime = 0
	}
	return liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
	}
}

func (h *Handler) collectDB(ctx context.Context) databaseStats {
	const timeoutSec = 1
	out := databaseStats{Configured: h.pool != nil, TimeoutSec: timeoutSec}
	if h.pool == nil {
		out.Reachable = true
		out.CheckedAt = time.Now().UTC().Format(time.RFC3339)
		return out
	}
	stat := h.pool.Stat()
	out.Pool = poolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireCount:  stat.AcquireCount(),
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, timeoutSec*time.Second)
	err := h.pool.Ping(pingCtx)
	cancel()
	out.PingMs = time.Since(start).Milliseconds()
	out.CheckedAt = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Reachable = true
	}
	return out
}

// Live does not touch the database.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.live(time.Now().UTC()))
}

// Ready returns 503 when a configured database is not reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := readinessResponse{liveResponse: h.live(time.Now().UTC()), Database: h.collectDB(r.Context())}
	status := http.StatusOK
	if !resp.Database.Reachable {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

// Full is mounted behind the internal token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	host, _ := os.Hostname()

	resp := fullResponse{
		liveResponse: h.live(time.Now().UTC()),
		HTTPAddr:     h.httpAddr,
		PID:          os.Getpid(),
		Hostname:     host,
		Runtime: runtimeStats{
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			GoMaxProcs: runtime.GOMAXPROCS(0),
			NumGC:      mem.NumGC,
			HeapAlloc:  mem.HeapAlloc,
			SysBytes:   mem.Sys,
		},
		Database: h.collectDB(r.Context()),
	}
	if h.accounts != nil {
		resp.Core.Accounts = len(h.accounts.IDs())
	}
	if h.book != nil {
		resp.Core.AccountsExposed = len(h.book.AccountsWithExposure())
	}
	if h.prices != nil {
		resp.Core.InstrumentsPriced = len(h.prices.Snapshot())
	}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		resp.Version = strings.TrimSpace(info.Main.Version)
	}
	status := http.StatusOK
	if !resp.Database.Reachable {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
