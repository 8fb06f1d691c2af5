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

	"github.com/odyssey-erp/secengine/cmd/secengine/cli"
	"github.com/odyssey-erp/secengine/internal/app"
	"github.com/odyssey-erp/secengine/internal/datatypes"
	"github.com/odyssey-erp/secengine/internal/groups"
	"github.com/odyssey-erp/secengine/internal/observability"
	"github.com/odyssey-erp/secengine/internal/platform/cache"
	"github.com/odyssey-erp/secengine/internal/platform/db"
	"github.com/odyssey-erp/secengine/internal/security"
	"github.com/odyssey-erp/secengine/internal/usersession"
	sessionhttp "github.com/odyssey-erp/secengine/internal/usersession/http"
	"github.com/odyssey-erp/secengine/jobs"
)

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
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI, err := cli.NewJobsCLI(redisOpts)
		if err != nil {
			logger.Error("init jobs cli", slog.Any("error", err))
			os.Exit(1)
		}
		code := jobsCLI.Run(ctx, os.Args[2:], os.Stdout, os.Stderr)
		_ = jobsCLI.Close()
		os.Exit(code)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := security.Migrate(ctx, dbpool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	types := datatypes.NewRegistry()
	store := security.NewRepository(dbpool)

	groupRepo, err := groups.NewRepository(ctx, store, types, logger, metrics,
		groups.NewFileProvider(cfg.GroupDefinitionsFile, types))
	if err != nil {
		logger.Error("load group definitions", slog.Any("error", err))
		os.Exit(1)
	}

	var defaults security.DefaultPermissionValues
	if cfg.DefaultPermissionsFile != "" {
		loaded, err := security.LoadDefaultsFile(cfg.DefaultPermissionsFile)
		if err != nil {
			logger.Error("load default permissions", slog.Any("error", err))
			os.Exit(1)
		}
		defaults = loaded
	}

	roleCache, err := usersession.NewRoleCache(cfg.RoleCacheSize)
	if err != nil {
		logger.Error("init role cache", slog.Any("error", err))
		os.Exit(1)
	}
	manager := usersession.NewManager(store, groupRepo, usersession.Options{
		Extensions: security.NewStaticExtensions(cfg.EntityExtensions, cfg.KnownEntities...),
		Defaults:   defaults,
		Cache:      roleCache,
		Logger:     logger,
		Metrics:    metrics,
	})
	registry := usersession.NewRegistry(redisClient, cfg.SessionTTL, groupRepo)

	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionHandler: sessionhttp.NewHandler(logger, manager, groupRepo, registry, jobsClient),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.Int("named_groups", len(groupRepo.Definitions())),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
