// Package application wires configuration into the running dependencies
// shared by the HTTP server and the CLI.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/crmimport/internal/config"
	"github.com/JonMunkholm/crmimport/internal/importer"
	"github.com/JonMunkholm/crmimport/internal/lock"
	"github.com/JonMunkholm/crmimport/internal/normalize"
	"github.com/JonMunkholm/crmimport/internal/store"
)

// App holds the process-wide dependencies.
type App struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	Store   *store.Store
	Service *importer.Service

	redis *redis.Client
}

// New connects to the database (and Redis when configured) and builds the
// import service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Pool: pool, Store: store.New(pool)}

	locker, err := a.locker(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	a.Service = importer.NewService(a.Store, a.Store, normalize.New(cfg.Import.PhoneRegion), importer.Options{
		ChunkSize:    cfg.Import.ChunkSize,
		ChunkTimeout: cfg.Import.ChunkTimeout,
		MaxRows:      cfg.Import.MaxRows,
		Locker:       locker,
		Limiter:      importer.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
	})
	return a, nil
}

// Connect opens and verifies a pgx pool.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

// locker returns a Redis lock when REDIS_ADDR is set and an in-process
// lock otherwise.
func (a *App) locker(ctx context.Context) (importer.Locker, error) {
	rc := a.Config.Redis
	wait := a.Config.Import.MaxWaitTime
	if rc.Addr == "" {
		slog.Info("pipeline lock is in-process", "reason", "REDIS_ADDR not set")
		return lock.NewLocal(wait), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	a.redis = client
	slog.Info("pipeline lock uses redis", "addr", rc.Addr, "ttl", rc.LockTTL)
	return lock.NewRedis(client, rc.LockTTL, wait), nil
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	return a.Pool.Ping(ctx)
}

// Close releases the pool and the Redis client.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	a.Pool.Close()
}
