// Package bootstrap builds the object graph shared by cmd/server and cmd/sync-once.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/creatorsync/internal/adapter/httpserver"
	"github.com/pscheid92/creatorsync/internal/adapter/instagram"
	"github.com/pscheid92/creatorsync/internal/adapter/metrics"
	"github.com/pscheid92/creatorsync/internal/adapter/postgres"
	"github.com/pscheid92/creatorsync/internal/adapter/provider"
	"github.com/pscheid92/creatorsync/internal/adapter/redis"
	"github.com/pscheid92/creatorsync/internal/adapter/tiktok"
	"github.com/pscheid92/creatorsync/internal/adapter/youtube"
	"github.com/pscheid92/creatorsync/internal/app"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/config"
	"github.com/pscheid92/creatorsync/internal/platform/crypto"
	"github.com/pscheid92/creatorsync/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// Components is everything a process needs to sync. Redis is nil without REDIS_URL.
type Components struct {
	Registry     *prometheus.Registry
	Pool         *pgxpool.Pool
	Redis        *goredis.Client
	Lease        domain.SyncLease
	Adapters     app.Adapters
	Orchestrator *app.Orchestrator
	Service      *app.Service
	Job          *app.MasterJob
}

func Build(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*Components, error) {
	c := &Components{Registry: metrics.NewRegistry()}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL, postgres.NewMetricsTracer(metrics.NewDBMetrics(c.Registry)))
	if err != nil {
		return nil, err
	}
	c.Pool = pool

	if err := postgres.RunMigrationsWithLock(connectCtx, pool); err != nil {
		c.Close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(connectCtx, cfg.RedisURL, redis.NewMetricsHook(metrics.NewRedisMetrics(c.Registry)))
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = rdb
		c.Lease = redis.NewLease(rdb)
		slog.Info("Using Redis sync lease")
	} else {
		c.Lease = app.NewMemoryLease(clock)
		slog.Info("Using in-process sync lease; run a single instance")
	}

	cryptoSvc, err := crypto.New(cfg.TokenEncryptionKey)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create crypto service: %w", err)
	}
	if cfg.TokenEncryptionKey == "" {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, provider tokens are stored in plaintext")
	}

	syncMetrics := metrics.NewSyncMetrics(c.Registry)
	c.Adapters = newAdapters(cfg, clock, metrics.NewBreakerMetrics(c.Registry))

	conns := postgres.NewConnectionRepo(pool, cryptoSvc)
	tokens := app.NewTokenManager(c.Adapters, conns, app.TokenManagerConfig{
		Policies: refreshPolicies(cfg),
		Retry:    refreshRetryPolicy(clock),
		Classify: provider.Classify,
	}, clock, syncMetrics)
	audit := app.NewAuditLog(postgres.NewSyncLogRepo(pool), clock, syncMetrics)

	c.Orchestrator = app.NewOrchestrator(
		c.Adapters,
		conns,
		postgres.NewMetricsStore(pool),
		tokens,
		audit,
		c.Lease,
		app.OrchestratorConfig{
			LeaseTTL: cfg.Sync.LeaseTTL,
			Pacers: map[domain.Platform]app.Pacer{
				domain.PlatformInstagram: app.FixedDelay{Delay: cfg.Instagram.Pacing, Clock: clock},
				domain.PlatformTikTok:    app.FixedDelay{Delay: cfg.TikTok.Pacing, Clock: clock},
				domain.PlatformYouTube:   app.FixedDelay{Delay: cfg.YouTube.Pacing, Clock: clock},
			},
		},
		clock,
		syncMetrics,
	)

	c.Service = app.NewService(c.Adapters, conns, c.Orchestrator, app.ServiceConfig{StateMaxAge: cfg.OAuthStateMaxAge}, clock)

	c.Job = app.NewMasterJob(c.Orchestrator, cfg.Sync.PlatformCooldown, clock)
	if c.Redis != nil {
		c.Job.WithLeaderLease(c.Lease, max(cfg.Sync.Interval, cfg.Sync.LeaseTTL))
	}

	return c, nil
}

func newAdapters(cfg *config.Config, clock clockwork.Clock, breakers *metrics.BreakerMetrics) app.Adapters {
	opts := []provider.Option{provider.WithBreakerObserver(breakers.Observe)}

	return app.NewAdapters(
		instagram.New(instagram.Config{
			ClientID:      cfg.Instagram.ClientID,
			ClientSecret:  cfg.Instagram.ClientSecret,
			RedirectURI:   cfg.Instagram.RedirectURI,
			Timeout:       cfg.ProviderTimeout,
			Clock:         clock,
			ClientOptions: opts,
		}),
		tiktok.New(tiktok.Config{
			ClientKey:     cfg.TikTok.ClientKey,
			ClientSecret:  cfg.TikTok.ClientSecret,
			RedirectURI:   cfg.TikTok.RedirectURI,
			Timeout:       cfg.ProviderTimeout,
			Clock:         clock,
			ClientOptions: opts,
		}),
		youtube.New(youtube.Config{
			ClientID:      cfg.YouTube.ClientID,
			ClientSecret:  cfg.YouTube.ClientSecret,
			RedirectURI:   cfg.YouTube.RedirectURI,
			Timeout:       cfg.ProviderTimeout,
			Clock:         clock,
			ClientOptions: opts,
		}),
	)
}

func refreshPolicies(cfg *config.Config) map[domain.Platform]app.RefreshPolicy {
	policies := app.DefaultRefreshPolicies()
	set := func(p domain.Platform, disconnect bool) {
		policy := policies[p]
		policy.DisconnectOnRefreshFailure = disconnect
		policies[p] = policy
	}
	set(domain.PlatformInstagram, cfg.Instagram.DisconnectOnRefreshFailure)
	set(domain.PlatformTikTok, cfg.TikTok.DisconnectOnRefreshFailure)
	set(domain.PlatformYouTube, cfg.YouTube.DisconnectOnRefreshFailure)
	return policies
}

func refreshRetryPolicy(clock clockwork.Clock) retry.Policy {
	p := retry.Default()
	p.Clock = clock
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Retrying token refresh", "attempt", attempt, "backoff", backoff, "error", err)
	}
	return p
}

// HealthChecks are the readiness probes for the backing stores.
func (c *Components) HealthChecks() []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{{Name: "postgres", Check: c.Pool.Ping}}
	if c.Redis != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		}})
	}
	return checks
}

// Close releases the pools. Safe on a partially built graph.
func (c *Components) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			slog.Error("Failed to close Redis client", "error", err)
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
