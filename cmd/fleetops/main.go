package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/app"
	"github.com/fleetops/fleetops/internal/eventual"
	"github.com/fleetops/fleetops/internal/fuelsync"
	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/observability"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/platform/cache"
	"github.com/fleetops/fleetops/internal/platform/db"
	"github.com/fleetops/fleetops/internal/reassign"
	"github.com/fleetops/fleetops/internal/recurring"
	"github.com/fleetops/fleetops/internal/shared"
	"github.com/fleetops/fleetops/jobs"
)

func matchConfig(cfg *app.Config, logger *slog.Logger) fuelsync.MatchConfig {
	mc := fuelsync.DefaultMatchConfig()
	if cfg.FuelMatchThreshold > 0 {
		mc.Threshold = cfg.FuelMatchThreshold
	}
	if eps, err := decimal.NewFromString(cfg.FuelMatchEpsilon); err == nil && eps.IsPositive() {
		mc.AmountEpsilon = eps
	} else if err != nil {
		logger.Warn("invalid fuel match epsilon, using default", slog.String("value", cfg.FuelMatchEpsilon))
	}
	if loc, err := time.LoadLocation(cfg.FuelMatchTimezone); err == nil {
		mc.Location = loc
	} else {
		logger.Warn("invalid fuel match timezone, using UTC", slog.String("value", cfg.FuelMatchTimezone))
	}
	return mc
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	metrics := observability.NewMetrics()

	periodsRepo := periods.NewRepository(dbpool)
	periodsService := periods.NewService(periodsRepo, auditLogger, logger)
	periodsService.WithObserver(metrics)
	periodsHandler := periods.NewHandler(logger, periodsService)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, periodsService, logger, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	recurringRepo := recurring.NewRepository(dbpool)
	recurringService := recurring.NewService(recurringRepo, periodsService, ledgerService, logger)
	recurringHandler := recurring.NewHandler(logger, recurringService)

	eventualRepo := eventual.NewRepository(dbpool)
	eventualService := eventual.NewService(eventualRepo, periodsService, ledgerService, logger)
	eventualHandler := eventual.NewHandler(logger, eventualService)

	reassignService := reassign.NewService(ledgerRepo, periodsService, ledgerService, auditLogger, logger)
	reassignHandler := reassign.NewHandler(logger, reassignService)

	fuelRepo := fuelsync.NewRepository(dbpool)
	cards := fuelsync.NewCardDirectory(fuelRepo, redisClient, cfg.CardCacheTTL, logger)
	fuelService := fuelsync.NewService(fuelRepo, cards, periodsService, ledgerRepo, ledgerService, matchConfig(cfg, logger), logger, metrics)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	fuelHandler := fuelsync.NewHandler(logger, fuelService, queueClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		PeriodsHandler:   periodsHandler,
		LedgerHandler:    ledgerHandler,
		RecurringHandler: recurringHandler,
		EventualHandler:  eventualHandler,
		ReassignHandler:  reassignHandler,
		FuelSyncHandler:  fuelHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
