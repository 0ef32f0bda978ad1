package httpserver

import (
	"net/http"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/admin"
	"lv-margincore/internal/health"
	"lv-margincore/internal/journal"
	"lv-margincore/internal/logging"
	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/orders"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterDeps struct {
	AccountsHandler *accounts.Handler
	OrderHandler    *orders.Handler
	MarketHandler   *marketdata.Handler
	JournalHandler  *journal.Handler
	HealthHandler   *health.Handler
	AdminHandler    *admin.Handler
	EventsWS        http.Handler
	Metrics         http.Handler
	RateLimiter     *RateLimiter
	InternalToken   string
	JWTSecret       string
	Logger          *zap.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logging.OrNop(d.Logger).Named("http")))
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	if d.Metrics != nil {
		r.With(InternalAuth(d.InternalToken)).Get("/metrics", d.Metrics.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Get("/health", d.HealthHandler.Full)
			r.Get("/ws", d.EventsWS.ServeHTTP)

			r.Post("/ticks", d.MarketHandler.Tick)
			r.Get("/quotes", d.MarketHandler.Quotes)

			r.Post("/accounts", d.AccountsHandler.Create)
			r.Get("/accounts", d.AccountsHandler.List)
			r.Route("/accounts/{accountID}", func(r chi.Router) {
				r.Get("/", d.AccountsHandler.Get)
				r.Get("/metrics", d.AccountsHandler.Metrics)
				r.Post("/deposit", d.AccountsHandler.Deposit)
				r.Post("/withdraw", d.AccountsHandler.Withdraw)
				r.Post("/close", d.AccountsHandler.Close)
				r.Get("/positions", d.OrderHandler.List)
				r.Post("/positions/close", d.OrderHandler.CloseByScope)
				r.Get("/journal", d.JournalHandler.List)
			})

			r.Post("/orders", d.OrderHandler.Place)
			r.Post("/orders/pending", d.OrderHandler.PlacePending)
			r.Delete("/orders/{positionID}", d.OrderHandler.Cancel)
			r.Post("/positions/{positionID}/close", d.OrderHandler.Close)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", d.AdminHandler.Login)
			r.Group(func(r chi.Router) {
				r.Use(admin.AdminAuthMiddleware(d.JWTSecret))
				r.Get("/me", d.AdminHandler.Me)
				r.Post("/accounts/{accountID}/credit", d.AccountsHandler.AdminCredit)
			})
		})
	})
	return r
}
