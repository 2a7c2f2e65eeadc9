package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"lv-margincore/internal/audit"
	"lv-margincore/internal/auth"
	"lv-margincore/internal/charges"
	"lv-margincore/internal/config"
	"lv-margincore/internal/copytrading"
	"lv-margincore/internal/db"
	"lv-margincore/internal/engine"
	"lv-margincore/internal/events"
	"lv-margincore/internal/feed"
	"lv-margincore/internal/httpserver"
	"lv-margincore/internal/ledger"
	"lv-margincore/internal/scheduler"
	"lv-margincore/internal/store"
	"lv-margincore/internal/store/memstore"
)

// appStore is the union of every consumer-side store interface, satisfied
// by both the Postgres store and the in-memory demo store.
type appStore interface {
	engine.Store
	httpserver.Store
	copytrading.Store
	auth.UserStore
	auth.AdminStore
}

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		st   appStore
		sink audit.Sink
	)
	if cfg.Mode == "production" {
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("database connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
		sink = audit.NewPostgresSink(pool)
	} else {
		mem := memstore.New()
		hash, err := auth.HashPassword(cfg.AdminPassword)
		if err != nil {
			logger.Error("admin seed failed", slog.Any("error", err))
			os.Exit(1)
		}
		mem.SeedAdmin(ctx, "admin@local", hash)
		st = mem
		sink = mem
		logger.Info("running in demo mode on the in-memory store")
	}

	cache := feed.NewCache()
	if cfg.Mode != "production" {
		feed.SeedStatic(cache)
	}
	bus := events.NewBus()
	locks := ledger.NewLocks()

	trading := engine.NewService(st, charges.NewResolver(st), cache, bus, locks, logger)
	copier := copytrading.NewEngine(st, trading, bus, locks, logger)
	go copier.Run(ctx)

	if cfg.FeedWSURL != "" {
		sub := feed.NewSubscriber(cfg.FeedWSURL, cfg.FeedSymbols, cache, logger)
		go sub.Run(ctx)
	}
	if cfg.FeedHTTPURL != "" {
		poller := feed.NewPoller(cfg.FeedHTTPURL, cfg.FeedSymbols, cache, logger)
		go poller.Run(ctx, 5*time.Second)
	}

	sched := scheduler.New(logger)
	sched.Every(ctx, "order-sweep", cfg.SweepInterval, func(ctx context.Context) error {
		prices := cache.Snapshot()
		if _, err := trading.CheckPendingOrders(ctx, prices); err != nil {
			return err
		}
		_, err := trading.CheckSLTPAll(ctx, prices)
		return err
	})
	sched.Every(ctx, "stop-out-sweep", cfg.StopOutInterval, func(ctx context.Context) error {
		_, err := trading.CheckStopOutAll(ctx, cache.Snapshot())
		return err
	})
	sched.Daily(ctx, "swap-accrual", cfg.SwapHourUTC, trading.ApplySwap)
	sched.Daily(ctx, "copy-commission", cfg.CommissionHourUTC, func(ctx context.Context) error {
		day := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		return copier.CalculateDailyCommission(ctx, day)
	})

	authSvc := auth.NewService(st, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	adminSvc := auth.NewAdminService(st, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:  auth.NewHandler(authSvc, adminSvc),
		AuthService:  authSvc,
		AdminService: adminSvc,
		Handler:      httpserver.NewHandler(st, trading, cache, sink, logger),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", slog.String("addr", cfg.HTTPAddr), slog.String("mode", cfg.Mode))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	sched.Wait()
}
