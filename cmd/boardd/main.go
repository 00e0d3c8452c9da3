package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/app"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/config"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/lock"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/notify"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "database connection failed", err)
	}
	defer db.Close()

	applied, err := store.NewMigrator(db, cfg.MigrationsDir).Up(ctx)
	if err != nil {
		fatal(logger, "migrations failed", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "versions", applied)
	}

	dataStore := store.NewPostgresStore(db)

	var (
		locker      lock.Locker
		redisClient *redis.Client
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for the reconcile lock")
		redisLocker, err := lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			fatal(logger, "redis connection failed", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		redisClient = redisLocker.Client()
	} else {
		logger.Info("using file lock for reconcile", "path", cfg.LockFile)
		locker = lock.NewFileLocker(cfg.LockFile)
	}

	notifier, err := notify.FromConfig(cfg, dataStore, redisClient, logger)
	if err != nil {
		fatal(logger, "notification setup failed", err)
	}

	service := app.New(cfg, dataStore, notifier, logger)
	scheduler := app.NewScheduler(service, locker, cfg.ReconcileInterval, cfg.ReconcileLockTTL)
	go scheduler.Run(ctx)

	httpServer := app.NewHTTPServer(service, scheduler, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("workflow board listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
