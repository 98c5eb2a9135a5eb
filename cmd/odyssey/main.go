package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-admin/internal/app"
	"github.com/odyssey-erp/odyssey-admin/internal/attachments"
	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-admin/internal/audit/http"
	"github.com/odyssey-erp/odyssey-admin/internal/crud"
	"github.com/odyssey-erp/odyssey-admin/internal/observability"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
	"github.com/odyssey-erp/odyssey-admin/internal/users"
	"github.com/odyssey-erp/odyssey-admin/jobs"
)

func main() {
	if app.SkipStartup("odyssey") {
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

	if cfg.PGAutoMigrate {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	registry, err := app.NewRegistry(cfg)
	if err != nil {
		logger.Error("load entity definitions", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := app.NewBlobStore(ctx, cfg)
	if err != nil {
		logger.Error("open attachment storage", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "odyssey_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	redisOpts := cfg.AsynqRedis()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	recorder := audit.NewRecorder(dbpool, logger)
	var sink audit.Sink = recorder
	if cfg.AuditAsync {
		sink = audit.NewQueueSink(jobClient.Asynq(), recorder, logger)
	}

	rbacRepo := rbac.NewRepository(dbpool)
	grantCache := rbac.NewGrantCache(rbacRepo, redisClient, cfg.PermissionCacheTTL, logger)
	resolver := rbac.NewResolver(grantCache, metrics)
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger}
	rbacService := rbac.NewService(rbacRepo, resolver, grantCache, sink, logger)
	if _, err := rbacService.SyncPermissions(ctx, append(registry.PermissionNames(), shared.CoreScopes()...)); err != nil {
		logger.Warn("sync permissions", slog.Any("error", err))
	}

	usersService := users.NewService(users.NewRepository(dbpool), resolver, sink, logger)

	manager := attachments.NewManager(
		attachments.NewRepository(dbpool),
		store,
		attachments.Config{MaxBytes: cfg.AttachmentMaxBytes, Allowed: cfg.AttachmentAllowedTypes},
		logger,
		attachments.WithObserver(metrics),
		attachments.WithSink(sink),
	)

	auditService := audit.NewService(audit.NewRepository(dbpool))

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Metrics:        metrics,
		RBAC:           rbacMiddleware,
		Ready: func(r *http.Request) error {
			return errors.Join(dbpool.Ping(r.Context()), redisClient.Ping(r.Context()).Err())
		},
		UsersHandler:      users.NewHandler(logger, usersService, sessionManager, rbacMiddleware),
		EntitiesHandler:   crud.NewHandler(logger, registry, rbacMiddleware),
		RBACHandler:       rbac.NewHandler(logger, rbacService, rbacMiddleware),
		AttachmentHandler: attachments.NewHandler(logger, manager, registry, rbacMiddleware),
		AuditHandler:      audithttp.NewHandler(logger, auditService, resolver),
		JobHandler:        jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Int("entities", len(registry.Types())))
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
