package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cafetrace/cafetrace/internal/alerts"
	"github.com/cafetrace/cafetrace/internal/app"
	"github.com/cafetrace/cafetrace/internal/ledger"
	"github.com/cafetrace/cafetrace/internal/platform/cache"
	"github.com/cafetrace/cafetrace/internal/platform/db"
	"github.com/cafetrace/cafetrace/internal/shared"
	"github.com/cafetrace/cafetrace/jobs"
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
	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, logger)

	alertService := alerts.NewService(ledgerRepo, alerts.Thresholds{
		MinGreenKg:    cfg.AlertMinGreenKg,
		MinRoastedKg:  cfg.AlertMinRoastedKg,
		ExpiryHorizon: cfg.AlertExpiryHorizon,
	}, logger)
	alertCache := alerts.NewSnapshotCache(redisClient, 2*cfg.AlertScanInterval)

	alertJob := jobs.NewAlertScanJob(alertService, alertCache, logger, nil)
	sweepJob := jobs.NewExpirySweepJob(ledgerService, ledgerRepo, logger, nil)

	alertTask, err := jobs.NewAlertScanTask(jobs.AlertScanPayload{RequestedBy: "scheduler"})
	if err != nil {
		logger.Error("build alert task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewExpirySweepTask(jobs.ExpirySweepPayload{ActorID: "system"})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAlertScan, Handler: alertJob.Handle},
			{Type: jobs.TaskExpirySweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.AlertScanInterval.String(), Task: alertTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "@every " + cfg.ExpirySweepInterval.String(), Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Timeout(10 * time.Minute)}},
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
