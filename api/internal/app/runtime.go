package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"zcc-reporting/api/internal/accounts"
	"zcc-reporting/api/internal/ingest"
	"zcc-reporting/api/internal/reports"
	"zcc-reporting/api/internal/repos"
	"zcc-reporting/shared/authx"
	"zcc-reporting/shared/cachex"
	"zcc-reporting/shared/clients/zoom"
	"zcc-reporting/shared/config"
	"zcc-reporting/shared/influxx"
	"zcc-reporting/shared/lockx"
	"zcc-reporting/shared/logx"
	"zcc-reporting/shared/mqx"
)

// Runtime holds the reporting components shared by the API, the worker and the CLI.
type Runtime struct {
	Pool        *pgxpool.Pool
	Cache       *cachex.Client
	Tokens      *zoom.TokenCache
	JWT         *authx.JWT
	Credentials *repos.CredentialsRepo
	Runs        *repos.RefreshRunsRepo
	Audit       *repos.AuditRepo
	Engine      *ingest.Engine
	Reports     *reports.Service
	Accounts    *accounts.Service

	closers []func()
}

// Build wires every component around pool. Redis, Kafka and Influx are optional; a
// missing or broken one is reported as a problem and left out.
func Build(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger logx.Logger) (*Runtime, []config.Problem) {
	var problems []config.Problem
	rt := &Runtime{Pool: pool}

	timecards := repos.NewTimecardsRepo(pool)
	agents := repos.NewAgentsRepo(pool)
	rt.Credentials = repos.NewCredentialsRepo(pool)
	rt.Runs = repos.NewRefreshRunsRepo(pool)
	rt.Audit = repos.NewAuditRepo(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		cache, err := cachex.New(cfg)
		if err == nil {
			err = cache.Ping(ctx)
		}
		if err != nil {
			problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "redis unavailable"})
			logger.Warn(ctx, "redis_unavailable", "continuing without redis",
				slog.String("error", err.Error()),
			)
			if cache != nil {
				_ = cache.Close()
			}
		} else {
			rt.Cache = cache
			redisClient = cache.Client()
			rt.closers = append(rt.closers, func() { _ = cache.Close() })
		}
	}

	upstream, tokens := zoom.New(cfg, rt.Credentials)
	rt.Tokens = tokens

	deps := ingest.Deps{
		Upstream:  upstream,
		Tokens:    tokens,
		Timecards: timecards,
		Agents:    agents,
		Locker:    lockx.NewDistributedLocks(redisClient, "zcc:refresh:", time.Duration(cfg.RefreshLockTTLSec)*time.Second, logger),
		Logger:    logger,
		Runs:      rt.Runs,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := mqx.NewProducer(cfg)
		if err != nil {
			problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "kafka producer init failed"})
		} else {
			deps.Publisher = producer
			rt.closers = append(rt.closers, func() { _ = producer.Close() })
		}
	}
	if cfg.InfluxURL != "" {
		influx, err := influxx.New(cfg)
		if err != nil {
			problems = append(problems, config.Problem{Field: "INFLUX_URL", Message: err.Error()})
		} else {
			deps.Stats = influx
			rt.closers = append(rt.closers, influx.Close)
		}
	}
	rt.Engine = ingest.New(deps)

	var names reports.NameCache
	if nc := cachex.NewNameCache(rt.Cache, time.Duration(cfg.DirectoryCacheSec)*time.Second); nc != nil {
		names = nc
	}
	rt.Reports = reports.NewService(timecards, agents, rt.Credentials, rt.Engine, names, logger)

	jwt, err := authx.NewJWT(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL())
	if err != nil {
		problems = append(problems, config.Problem{Field: "JWT_SECRET", Message: "JWT_SECRET is required"})
	} else {
		rt.JWT = jwt
		rt.Accounts = accounts.NewService(repos.NewUsersRepo(pool), repos.NewRolesRepo(pool), jwt, logger)
	}
	return rt, problems
}

// SeedAdmin creates the configured admin user when it does not exist yet.
func (rt *Runtime) SeedAdmin(ctx context.Context, cfg config.Config) (bool, error) {
	svc := rt.Accounts
	if svc == nil {
		// Seeding needs no signing key.
		svc = accounts.NewService(repos.NewUsersRepo(rt.Pool), repos.NewRolesRepo(rt.Pool), nil, logx.Discard())
	}
	return svc.SeedAdmin(ctx, accounts.AdminSeed{
		Name:     cfg.AdminName,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	})
}

func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
