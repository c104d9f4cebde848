package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"zcc-reporting/api/internal/app"
	"zcc-reporting/api/internal/handlers"
	"zcc-reporting/api/internal/jobs"
	"zcc-reporting/api/internal/middleware"
	"zcc-reporting/shared/config"
	"zcc-reporting/shared/dbx"
	"zcc-reporting/shared/httpx"
	"zcc-reporting/shared/logx"
	"zcc-reporting/shared/metricsx"
	"zcc-reporting/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("api", 9091)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.TracerConfigFrom(cfg))
	if err != nil {
		logger.Warn(context.Background(), "tracer_init_failed", "tracing disabled",
			slog.String("error", err.Error()),
		)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if cfg.DBAutoMigrate {
			if version, err := dbx.Migrate(cfg.DatabaseURL); err != nil {
				readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "migrations failed"})
				logger.Error(context.Background(), "db_migrate_failed", "database migration failed",
					slog.String("error_code", "FAILED_PRECONDITION"),
					slog.String("error", err.Error()),
				)
			} else {
				logger.Info(context.Background(), "db_migrated", "database schema up to date", slog.Uint64("version", uint64(version)))
			}
		}
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			dbPool = nil
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		}
	}

	rt, problems := app.Build(context.Background(), cfg, dbPool, logger)
	readyProblems = append(readyProblems, problems...)
	defer rt.Close()

	if dbPool != nil && cfg.AdminSeedEnabled {
		if _, err := rt.SeedAdmin(context.Background(), cfg); err != nil {
			logger.Error(context.Background(), "admin_seed_failed", "admin seed failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
	}

	var enqueuer handlers.RefreshEnqueuer
	if cfg.AsynqEnabled && cfg.AsynqRedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.AsynqRedisAddr,
			Password: cfg.AsynqRedisPass,
			DB:       cfg.AsynqRedisDB,
		})
		defer client.Close()
		enqueuer = jobs.NewEnqueuer(client, rt.Runs, cfg.AsynqQueue)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				"FAILED_PRECONDITION",
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	var accountsSvc handlers.Accounts
	if rt.Accounts != nil {
		accountsSvc = rt.Accounts
	}
	var verifier middleware.TokenVerifier
	if rt.JWT != nil {
		verifier = rt.JWT
	}
	handlers.New(handlers.Deps{
		Accounts:    accountsSvc,
		Reports:     rt.Reports,
		Credentials: rt.Credentials,
		Tokens:      rt.Tokens,
		Runs:        rt.Runs,
		Enqueuer:    enqueuer,
		Logger:      logger,
	}).Register(mux)

	probe := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}
	handler := httpx.WrapServeMux(mux, httpx.NotFound())
	handler = middleware.DBRequiredMiddleware{
		Available: dbPool != nil,
		Skip:      probe,
	}.Wrap(handler)
	handler = middleware.AuditMiddleware{
		Enabled: cfg.AuditEnabled && dbPool != nil,
		Repo:    rt.Audit,
		Logger:  logger,
		Skip:    probe,
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Skip:     middleware.PublicPath,
	}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(cfg.LoginRateRPS, cfg.LoginRateBurst, 10*time.Minute),
		Skip: func(r *http.Request) bool {
			return r.URL.Path != "/user/login"
		},
	}.Wrap(handler)
	handler = middleware.CORSMiddleware{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         10 * time.Minute,
	}.Wrap(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = metricsx.Instrument(handler)
	handler = otelhttp.NewHandler(handler, cfg.ServiceName)

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
			slog.Bool("async_refresh", enqueuer != nil),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
