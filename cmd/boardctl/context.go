package main

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/app"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/config"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/lock"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/notify"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/store"
)

type commandContext struct {
	verbose *bool

	configOnce sync.Once
	config     config.Config
	configErr  error

	db          *sql.DB
	store       *store.PostgresStore
	redisLocker *lock.RedisLocker
}

func newCommandContext(verbose *bool) *commandContext {
	return &commandContext{verbose: verbose}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load()
	})
	return c.config, c.configErr
}

// logger writes JSON logs to stderr so stdout stays machine readable.
func (c *commandContext) logger() *slog.Logger {
	cfg, _ := c.ensureConfig()
	var out io.Writer = io.Discard
	if c.verbose != nil && *c.verbose {
		out = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func (c *commandContext) openStore(ctx context.Context) (*store.PostgresStore, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c.db = db
	c.store = store.NewPostgresStore(db)
	return c.store, nil
}

func (c *commandContext) migrator(ctx context.Context) (*store.Migrator, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	dataStore, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return store.NewMigrator(dataStore.DB(), cfg.MigrationsDir), nil
}

// locker prefers the shared Redis lock so the CLI and running daemons
// exclude each other; without Redis it falls back to the local lock file.
func (c *commandContext) locker(lockFile string) (lock.Locker, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		if strings.TrimSpace(lockFile) == "" {
			lockFile = cfg.LockFile
		}
		return lock.NewFileLocker(lockFile), nil
	}
	if c.redisLocker == nil {
		c.redisLocker, err = lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
	}
	return c.redisLocker, nil
}

func (c *commandContext) service(ctx context.Context) (*app.Service, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	dataStore, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}
	var redisClient *redis.Client
	if c.redisLocker != nil {
		redisClient = c.redisLocker.Client()
	} else if strings.TrimSpace(cfg.RedisURL) != "" && cfg.NotifyEnabled("redis") {
		if _, err := c.locker(""); err != nil {
			return nil, err
		}
		redisClient = c.redisLocker.Client()
	}
	logger := c.logger()
	notifier, err := notify.FromConfig(cfg, dataStore, redisClient, logger)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, dataStore, notifier, logger), nil
}

func (c *commandContext) close() {
	if c.redisLocker != nil {
		_ = c.redisLocker.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}
