package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleetops/internal/app"
	"github.com/fleetops/fleetops/internal/fuelsync"
	jobmetrics "github.com/fleetops/fleetops/internal/jobs"
	"github.com/fleetops/fleetops/internal/ledger"
	"github.com/fleetops/fleetops/internal/observability"
	"github.com/fleetops/fleetops/internal/periods"
	"github.com/fleetops/fleetops/internal/platform/cache"
	"github.com/fleetops/fleetops/internal/platform/db"
	"github.com/fleetops/fleetops/internal/recurring"
	"github.com/fleetops/fleetops/internal/shared"
	"github.com/fleetops/fleetops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(periodsRepo, auditLogger, logger)
	periodsService.WithObserver(metrics)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, periodsService, logger, metrics)

	recurringRepo := recurring.NewRepository(pool)
	recurringService := recurring.NewService(recurringRepo, periodsService, ledgerService, logger)

	match := fuelsync.DefaultMatchConfig()
	if cfg.FuelMatchThreshold > 0 {
		match.Threshold = cfg.FuelMatchThreshold
	}
	if eps, err := decimal.NewFromString(cfg.FuelMatchEpsilon); err == nil && eps.IsPositive() {
		match.AmountEpsilon = eps
	}
	if loc, err := time.LoadLocation(cfg.FuelMatchTimezone); err == nil {
		match.Location = loc
	}

	fuelRepo := fuelsync.NewRepository(pool)
	cards := fuelsync.NewCardDirectory(fuelRepo, redisClient, cfg.CardCacheTTL, logger)
	fuelService := fuelsync.NewService(fuelRepo, cards, periodsService, ledgerRepo, ledgerService, match, logger, metrics)

	queueMetrics := jobmetrics.NewMetrics(nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFuelSyncBatch, Handler: jobs.NewFuelSyncBatchHandler(fuelService, logger, queueMetrics)},
			{Type: jobs.TaskRecurringSweep, Handler: jobs.NewRecurringSweepHandler(recurringService, logger, queueMetrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RecurringSweepCron, Task: jobs.NewRecurringSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
