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

	"github.com/vantage-ehs/vantage/internal/app"
	"github.com/vantage-ehs/vantage/internal/audit"
	audithttp "github.com/vantage-ehs/vantage/internal/audit/http"
	"github.com/vantage-ehs/vantage/internal/authz"
	authzhttp "github.com/vantage-ehs/vantage/internal/authz/http"
	"github.com/vantage-ehs/vantage/internal/catalog"
	"github.com/vantage-ehs/vantage/internal/observability"
	"github.com/vantage-ehs/vantage/internal/platform/cache"
	"github.com/vantage-ehs/vantage/internal/platform/db"
	"github.com/vantage-ehs/vantage/internal/rbac"
	"github.com/vantage-ehs/vantage/internal/roles"
	"github.com/vantage-ehs/vantage/internal/scope"
	"github.com/vantage-ehs/vantage/internal/shared"
)

// meteredEmitter counts every decision before handing it to the audit queue.
type meteredEmitter struct {
	inner   authz.Emitter
	metrics *observability.Metrics
}

func (m meteredEmitter) Emit(ctx context.Context, record authz.DecisionRecord) error {
	m.metrics.ObserveDecision(string(record.Decision.Result), string(record.Decision.Source))
	return m.inner.Emit(ctx, record)
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	scopeRepo := scope.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)
	var (
		scopeResolver scope.Resolver = scopeRepo
		catalogStore  catalog.Store  = catalogRepo
	)
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, running without read caches", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		scopeResolver = scope.NewCachedResolver(scopeRepo, redisClient, cfg.ScopeCacheTTL, logger)
		catalogStore = catalog.NewCachedStore(catalogRepo, redisClient, cfg.CatalogCacheTTL, logger)
	}

	metrics := observability.NewMetrics()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	emitter := meteredEmitter{
		inner:   audit.NewEmitter(asynqClient, metrics.AuditEmitFailures(), logger),
		metrics: metrics,
	}

	authzRepo := authz.NewRepository(pool)
	engine := authz.NewEngine(catalogStore, scopeResolver, authzRepo, authzRepo, emitter, logger)
	guard := authz.NewGuard(catalogStore, scopeResolver)
	admin := authz.NewAdmin(guard, authzRepo, logger)

	rbacMiddleware := rbac.Middleware{Engine: engine, Logger: logger}

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, catalogStore, logger)
	rolesHandler := roles.NewHandler(logger, rolesService, rbacMiddleware)

	auditService := audit.NewService(audit.NewRepository(pool))
	auditHandler := audithttp.NewHandler(logger, auditService, rbacMiddleware.RequireCapability(shared.CapAuditView))

	authzHandler := authzhttp.NewHandler(logger, engine, admin, rolesService,
		rbacMiddleware.RequireCapability(shared.CapAuthzResolve),
		rbacMiddleware.RequireCapability(shared.CapAssignmentsEdit),
		rbacMiddleware.RequireCapability(shared.CapOverridesEdit),
	)

	tokenAuth, err := app.NewTokenAuth(cfg, logger)
	if err != nil {
		logger.Error("configure api tokens", slog.Any("error", err))
		os.Exit(1)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Auth:         tokenAuth,
		AuthzHandler: authzHandler,
		RolesHandler: rolesHandler,
		AuditHandler: auditHandler,
		Metrics:      metrics,
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
