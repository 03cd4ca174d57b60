package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/dmitrymomot/quotagate/modules/accessapi"
	"github.com/dmitrymomot/quotagate/pkg/access"
	"github.com/dmitrymomot/quotagate/pkg/audit"
	"github.com/dmitrymomot/quotagate/pkg/config"
	"github.com/dmitrymomot/quotagate/pkg/environment"
	"github.com/dmitrymomot/quotagate/pkg/gate"
	"github.com/dmitrymomot/quotagate/pkg/httpserver"
	"github.com/dmitrymomot/quotagate/pkg/identity"
	"github.com/dmitrymomot/quotagate/pkg/logger"
	"github.com/dmitrymomot/quotagate/pkg/mongo"
	"github.com/dmitrymomot/quotagate/pkg/mongostore"
	"github.com/dmitrymomot/quotagate/pkg/pg"
	"github.com/dmitrymomot/quotagate/pkg/pgstore"
	"github.com/dmitrymomot/quotagate/pkg/plan"
	"github.com/dmitrymomot/quotagate/pkg/quota"
	"github.com/dmitrymomot/quotagate/pkg/redis"
	"github.com/dmitrymomot/quotagate/pkg/requestid"
	"github.com/dmitrymomot/quotagate/pkg/subscription"
	"github.com/dmitrymomot/quotagate/pkg/usage"
)

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	env := environment.Parse(cfg.Env)
	opts := []logger.Option{
		logger.WithEnvironment(env, cfg.ServiceName),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			identity.LoggerExtractor(),
		),
	}
	if cfg.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
			opts = append(opts, logger.WithLevel(level))
		}
	}
	if cfg.LogFormat != "" {
		opts = append(opts, logger.WithFormat(logger.Format(cfg.LogFormat)))
	}
	log := logger.New(opts...)

	if err := run(context.Background(), cfg, env, log); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

// app holds everything run needs to shut down cleanly.
type app struct {
	checks  map[string]httpserver.Check
	closers []func(context.Context)
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

func run(ctx context.Context, cfg appConfig, env environment.Environment, log *slog.Logger) error {
	a := &app{checks: map[string]httpserver.Check{}}
	defer a.close(context.WithoutCancel(ctx))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := access.NewMetrics(reg)

	catalog, registry, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	log.Info("catalog loaded", slog.Int("classes", len(catalog.Classes())))

	ledger, auditStorage, subStore, err := openStores(ctx, cfg, a, log)
	if err != nil {
		return err
	}

	breaker := usage.NewBreakerStore(ledger, usage.BreakerSettings{
		Name:                "usage-ledger",
		ConsecutiveFailures: cfg.BreakerFailures,
		OpenTimeout:         cfg.BreakerOpenTimeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})

	subSource, invalidator, err := subscriptionSource(ctx, cfg, subStore, a, log)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.QuotaTimezone)
	if err != nil {
		return errors.Join(errors.New("invalid QUOTA_TIMEZONE"), err)
	}
	counting := quota.CountAllOutcomes
	if cfg.CountingPolicy == quota.CountCompletedOnly.String() {
		counting = quota.CountCompletedOnly
	}
	degraded, err := access.ParseDegradedPolicy(cfg.DegradedPolicy)
	if err != nil {
		return err
	}

	evaluator := quota.NewEvaluator(catalog, breaker,
		quota.WithLocation(loc),
		quota.WithCountingPolicy(counting),
		quota.WithLogger(log),
	)
	auditLog := audit.NewLogger(auditStorage,
		audit.WithRequestIDExtractor(requestid.FromContext),
		audit.WithUserIDExtractor(func(ctx context.Context) (string, bool) {
			id, ok := identity.FromContext(ctx)
			return id.UserID, ok
		}),
	)
	engine := access.NewEngine(registry, evaluator,
		access.WithDegradedPolicy(degraded),
		access.WithAuditLogger(auditLog),
		access.WithMetrics(metrics),
		access.WithLogger(log),
	)

	recorderOpts := []usage.RecorderOption{usage.WithRecorderLogger(log)}
	if cfg.RequireIdempotency {
		recorderOpts = append(recorderOpts, usage.WithRequiredIdempotencyKey())
	}
	admins := identity.NewAdminList(cfg.AdminEmails...)
	if admins.Len() == 0 {
		log.Warn("no administrator emails configured")
	}
	svc := access.NewService(engine, usage.NewRecorder(breaker, recorderOpts...), subSource,
		access.WithAdminList(admins),
		access.WithSubscriptionTimeout(cfg.SubscriptionTimeout),
		access.WithServiceMetrics(metrics),
		access.WithServiceLogger(log),
	)

	handlerOpts := []accessapi.Option{accessapi.WithLogger(log)}
	if cfg.Paddle.WebhookSecret != "" {
		webhookOpts := []subscription.WebhookOption{subscription.WithWebhookLogger(log)}
		if invalidator != nil {
			webhookOpts = append(webhookOpts, subscription.WithInvalidator(invalidator))
		}
		webhook, err := subscription.NewPaddleWebhook(cfg.Paddle, subStore, webhookOpts...)
		if err != nil {
			return err
		}
		handlerOpts = append(handlerOpts, accessapi.WithWebhook(webhook))
	} else {
		log.Warn("PADDLE_WEBHOOK_SECRET not set, billing webhook disabled")
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.RealIP, middleware.Recoverer, environment.Middleware(env))
	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, 2*time.Second, a.checks))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Group(func(r chi.Router) {
		r.Use(identity.HeaderMiddleware)
		accessapi.NewHandler(svc, handlerOpts...).Routes(r)
	})

	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}

func loadCatalog(cfg appConfig) (*plan.Catalog, *gate.Registry, error) {
	var opts []gate.Option
	if cfg.StrictResources {
		opts = append(opts, gate.WithStrictDeclarations())
	}
	var (
		catalog  *plan.Catalog
		registry *gate.Registry
		err      error
	)
	if cfg.CatalogFile == "" {
		catalog = plan.DefaultCatalog()
		registry, err = gate.NewRegistry(opts...)
	} else {
		catalog, err = plan.LoadYAML(cfg.CatalogFile)
		if err != nil {
			return nil, nil, err
		}
		registry, err = gate.LoadYAML(cfg.CatalogFile, opts...)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := registry.Validate(catalog); err != nil {
		return nil, nil, err
	}
	return catalog, registry, nil
}

func openStores(ctx context.Context, cfg appConfig, a *app, log *slog.Logger) (usage.Store, audit.Storage, subscription.Store, error) {
	var (
		ledger   usage.Store        = usage.NewMemoryStore()
		auditLog audit.Storage      = audit.NewSlogStorage(log)
		subs     subscription.Store = subscription.NewMemoryStore()
	)

	needPG := cfg.LedgerBackend == "postgres" || cfg.SubscriptionBackend == "postgres" || cfg.AuditBackend == "postgres"
	if needPG {
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, nil, nil, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) { pool.Close() })
		a.checks["postgres"] = pg.Healthcheck(pool)

		if err := pg.Migrate(ctx, pool, pgstore.Migrations, pg.MigrateOptions{Dir: pgstore.MigrationsDir, Table: pgCfg.MigrationsTable}, log); err != nil {
			return nil, nil, nil, err
		}
		if cfg.LedgerBackend == "postgres" {
			ledger = pgstore.NewUsageStore(pool)
		}
		if cfg.SubscriptionBackend == "postgres" {
			subs = pgstore.NewSubscriptionStore(pool)
		}
		if cfg.AuditBackend == "postgres" {
			auditLog = pgstore.NewAuditStorage(pool)
		}
	}

	if cfg.LedgerBackend == "mongo" {
		var mCfg mongo.Config
		if err := config.Load(&mCfg); err != nil {
			return nil, nil, nil, err
		}
		client, err := mongo.Connect(ctx, mCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		a.closers = append(a.closers, func(ctx context.Context) { _ = client.Disconnect(ctx) })
		a.checks["mongo"] = mongo.Healthcheck(client)

		store := mongostore.NewUsageStore(client.Database(mCfg.Database))
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, nil, err
		}
		ledger = store
	}

	log.Info("stores ready",
		slog.String("ledger", cfg.LedgerBackend),
		slog.String("subscriptions", cfg.SubscriptionBackend),
		slog.String("audit", cfg.AuditBackend),
	)
	return ledger, auditLog, subs, nil
}

func subscriptionSource(ctx context.Context, cfg appConfig, store subscription.Store, a *app, log *slog.Logger) (subscription.Source, subscription.Invalidator, error) {
	switch cfg.SubscriptionCache {
	case "lru":
		cached := subscription.NewCachedSource(store, subscription.NewLRUCache(10_000, cfg.SubscriptionTTL))
		return cached, cached, nil
	case "redis":
		var rCfg redis.Config
		if err := config.Load(&rCfg); err != nil {
			return nil, nil, err
		}
		client, err := redis.Connect(ctx, rCfg)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) { _ = client.Close() })
		a.checks["redis"] = redis.Healthcheck(client)
		cached := subscription.NewCachedSource(store, subscription.NewRedisCache(client, cfg.SubscriptionTTL, log))
		return cached, cached, nil
	}
	return store, nil, nil
}
