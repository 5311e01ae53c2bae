// Package app assembles the valuation engine from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"costledger/internal/config"
	"costledger/internal/domain/valuation"
	"costledger/internal/infrastructure/cache"
	"costledger/internal/infrastructure/storage/postgres"
	"costledger/internal/infrastructure/storage/postgres/valuation_repo"
	"costledger/pkg/logger"
)

// App holds the wired engine and the resources it owns.
type App struct {
	Config    *config.Config
	Pool      *postgres.Pool
	TxManager *postgres.TxManager
	Audit     *postgres.AuditService
	Redis     *redis.Client // nil when REDIS_ADDR is empty
	Service   *valuation.Service
}

// New connects to the database (and Redis when configured) and builds the service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.SlowQuery = cfg.DBSlowQuery
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Pool: pool}
	a.TxManager = postgres.NewTxManager(pool, cfg.DBStatementTimeout)

	a.Audit, err = postgres.NewAuditService(a.TxManager)
	if err != nil {
		a.Close()
		return nil, err
	}

	var valuationCache valuation.Cache
	if cfg.RedisAddr != "" {
		a.Redis, err = cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		valuationCache = cache.NewRedisCache(a.Redis, cfg.CacheTTL)
	} else {
		valuationCache = cache.NewMemoryCache(cfg.CacheTTL)
	}

	a.Service = valuation.NewService(valuation.Deps{
		Layers:    valuation_repo.NewLayerRepo(a.TxManager),
		Products:  valuation_repo.NewProductRepo(a.TxManager),
		Movements: valuation_repo.NewMovementRepo(a.TxManager),
		TxManager: a.TxManager,
		Audit: valuation.MultiSink{
			a.Audit,
			postgres.NewOutboxPublisher(a.TxManager),
		},
		Cache: valuationCache,
	}, cfg.Valuation())

	logger.Info(ctx, "valuation engine ready",
		"default_method", cfg.DefaultMethod,
		"fallback_policy", cfg.FallbackPolicy,
		"redis_cache", a.Redis != nil,
	)
	return a, nil
}

// Close releases the database pool and the Redis client.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
