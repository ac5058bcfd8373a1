package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/infrastructure/config"
)

// StoreOptions selects where merge responses are remembered
type StoreOptions struct {
	// UseRedis keeps records in Redis so replays survive a backend restart
	// and are shared between instances
	UseRedis bool
	Redis    config.RedisConfig
	// AllowFallback degrades to an in-memory store when Redis is unreachable
	AllowFallback bool
	Logger        *zap.Logger
}

// OpenIdempotencyStore returns the store described by opts
func OpenIdempotencyStore(opts StoreOptions) (shared.IdempotencyStore, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if !opts.UseRedis {
		log.Info("using in-memory idempotency store")
		return NewInMemoryIdempotencyStore(0), nil
	}

	store, err := NewRedisIdempotencyStore(RedisConfig{
		Addr:      opts.Redis.Addr(),
		Password:  opts.Redis.Password,
		DB:        opts.Redis.DB,
		KeyPrefix: opts.Redis.KeyPrefix + "idempotency:",
	})
	if err == nil {
		log.Info("using redis idempotency store", zap.String("addr", opts.Redis.Addr()))
		return store, nil
	}
	if !opts.AllowFallback {
		return nil, fmt.Errorf("redis idempotency store unavailable: %w", err)
	}

	log.Warn("redis unavailable, merge replays are only detected within this process", zap.Error(err))
	return NewInMemoryIdempotencyStore(0), nil
}
