package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lv-margincore/internal/accounts"
	"lv-margincore/internal/admin"
	"lv-margincore/internal/config"
	"lv-margincore/internal/contracts"
	"lv-margincore/internal/db"
	"lv-margincore/internal/health"
	"lv-margincore/internal/httpserver"
	"lv-margincore/internal/journal"
	"lv-margincore/internal/logging"
	"lv-margincore/internal/marketdata"
	"lv-margincore/internal/metrics"
	"lv-margincore/internal/monitor"
	"lv-margincore/internal/notify"
	"lv-margincore/internal/orders"
	"lv-margincore/internal/positions"
	"lv-margincore/internal/settlement"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type auditJournal interface {
	accounts.Journal
	settlement.Recorder
	journal.Reader
}

func main() {
	startedAt := time.Now()
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Fatal("config", zap.Error(err))
	}
	logger := logging.New(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	var jr auditJournal = journal.NewMemoryJournal()
	if cfg.DBDSN != "" {
		pool, err = db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		pg := journal.NewPGJournal(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("journal schema", zap.Error(err))
		}
		jr = pg
	} else {
		logger.Warn("DB_DSN not set: journal is kept in memory")
	}

	table, err := loadContracts(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal("contracts", zap.Error(err))
	}

	m := metrics.New()
	bus := marketdata.NewBus()
	cache := marketdata.NewPriceCache(bus)
	book := positions.NewBook()
	reg := accounts.NewRegistry(cfg.Risk, jr, logger)
	reg.SetExposure(positions.Exposure{Book: book, Prices: cache})

	notifier := notify.Fanout{notify.NewBusNotifier(bus), notify.NewLogNotifier(logger)}
	engine := settlement.NewEngine(reg, book, jr, notifier, m, logger)
	exec := orders.NewExecutor(orders.Deps{
		Accounts:  reg,
		Book:      book,
		Contracts: table,
		Prices:    cache,
		Settle:    engine,
		Journal:   jr,
		Notifier:  notifier,
		Metrics:   m,
		Risk:      cfg.Risk,
		Logger:    logger,
	})
	resolver := monitor.NewStopOutResolver(reg, book, engine, notifier, m, logger)
	mon := monitor.New(monitor.Deps{
		Accounts:  reg,
		Book:      book,
		Contracts: table,
		Prices:    cache,
		Executor:  exec,
		Settle:    engine,
		Resolver:  resolver,
		Notifier:  notifier,
		Metrics:   m,
		Logger:    logger,
		Interval:  cfg.ScanInterval,
		Workers:   cfg.ScanWorkers,
	})
	go mon.Run(ctx)

	limiter := httpserver.NewRateLimiter(20, 60)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiter.Prune(now)
			}
		}
	}()

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AccountsHandler: accounts.NewHandler(reg),
		OrderHandler:    orders.NewHandler(exec),
		MarketHandler:   marketdata.NewHandler(cache),
		JournalHandler:  journal.NewHandler(jr),
		HealthHandler:   health.NewHandler(pool, reg, book, cache, startedAt, cfg.HTTPAddr),
		AdminHandler:    admin.NewHandler(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.AdminJWTSecret, cfg.AdminTokenTTL, logger),
		EventsWS:        httpserver.NewEventsWS(bus, reg, cfg.WebSocketOrigin),
		Metrics:         m.Handler(),
		RateLimiter:     limiter,
		InternalToken:   cfg.InternalToken,
		JWTSecret:       cfg.AdminJWTSecret,
		Logger:          logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Int("instruments", len(table.All())),
		zap.Duration("scan_interval", cfg.ScanInterval),
		zap.Bool("database", pool != nil))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server", zap.Error(err))
	}
	logger.Info("server stopped")
}

// loadContracts prefers the yaml file, then the database table, then the
// built-in defaults.
func loadContracts(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*contracts.Table, error) {
	var specs []contracts.Spec
	var err error
	source := "defaults"
	switch {
	case cfg.ContractsFile != "":
		specs, err = contracts.LoadFile(cfg.ContractsFile)
		source = cfg.ContractsFile
	case pool != nil:
		specs, err = contracts.NewStore(pool).LoadAll(ctx)
		source = "database"
	}
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		if source != "defaults" {
			logger.Warn("no contracts found, using defaults", zap.String("source", source))
		}
		specs = contracts.Defaults()
		source = "defaults"
	}
	logger.Info("contracts loaded", zap.String("source", source), zap.Int("count", len(specs)))
	return contracts.NewTable(specs...)
}
