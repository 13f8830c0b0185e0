package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deelflow/deelflow/internal/app"
	"github.com/deelflow/deelflow/internal/audit"
	"github.com/deelflow/deelflow/internal/dashboard"
	jobmetrics "github.com/deelflow/deelflow/internal/jobs"
	"github.com/deelflow/deelflow/internal/platform/cache"
	"github.com/deelflow/deelflow/internal/platform/db"
	"github.com/deelflow/deelflow/jobs"
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

	if cfg.StoreDriver != app.StoreDriverPostgres {
		logger.Error("worker requires STORE_DRIVER=postgres", slog.String("store", cfg.StoreDriver))
		os.Exit(1)
	}

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

	metrics := jobmetrics.NewMetrics(nil)
	auditStore := audit.NewStore(pool)
	recordJob := jobs.NewAuditRecordJob(auditStore, logger, metrics)
	pruneJob := jobs.NewAuditPruneJob(auditStore, logger, metrics)
	publishJob := jobs.NewMetricPublishJob(dashboard.NewStore(redisClient), logger, metrics)

	pruneTask, err := jobs.NewAuditPruneTask(cfg.AuditRetentionDays)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditRecord, Handler: recordJob.Handle},
			{Type: jobs.TaskAuditPrune, Handler: pruneJob.Handle},
			{Type: jobs.TaskMetricPublish, Handler: publishJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency), slog.Int("audit_retention_days", cfg.AuditRetentionDays))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
