package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"zcc-reporting/api/internal/app"
	"zcc-reporting/api/internal/jobs"
	"zcc-reporting/shared/config"
	"zcc-reporting/shared/dbx"
	"zcc-reporting/shared/logx"
	"zcc-reporting/shared/metricsx"
	"zcc-reporting/shared/observability"
)

func main() {
	cfg, problems := config.Load("refresh-worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	// Staff tokens are only issued by the API.
	problems = slices.DeleteFunc(problems, func(p config.Problem) bool { return p.Field == "JWT_SECRET" })
	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfigFrom(cfg)); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	rt, buildProblems := app.Build(context.Background(), cfg, dbPool, logger)
	defer rt.Close()
	for _, p := range buildProblems {
		logger.Warn(context.Background(), "component_degraded", p.Message, slog.String("field", p.Field))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	jobs.NewHandler(rt.Engine, cfg.AutoRefreshHours, logger).Register(mux)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if cfg.AutoRefreshEnabled {
		scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Location: time.UTC,
		})
		defer scheduler.Shutdown()
		task, err := jobs.ScheduledTimecardsTask(cfg.AsynqQueue, cfg.AutoRefreshHours)
		if err == nil {
			_, err = scheduler.Register(cfg.AutoRefreshCron, task)
		}
		if err != nil {
			logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("cron", cfg.AutoRefreshCron),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		if err := scheduler.Start(); err != nil {
			logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		logger.Info(context.Background(), "auto_refresh_scheduled", "periodic timecard refresh registered",
			slog.String("cron", cfg.AutoRefreshCron),
			slog.Int("lookback_hours", cfg.AutoRefreshHours),
		)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "refresh worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "refresh worker stopped")
}
