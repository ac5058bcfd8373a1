package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/cartsync/internal/domain/shared"
)

const defaultKeyPrefix = "cartsync:idempotency:"

// RedisIdempotencyStore implements IdempotencyStore using Redis, so several
// backend instances replay the same responses
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
	owned     bool
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // defaults to cartsync:idempotency:
}

// NewRedisIdempotencyStore connects to Redis and verifies the connection
func NewRedisIdempotencyStore(cfg RedisConfig) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: prefix, owned: true}, nil
}

// NewRedisIdempotencyStoreWithClient creates a store with an existing client.
// Close leaves the client open.
func NewRedisIdempotencyStoreWithClient(client *redis.Client, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix}
}

// Lookup implements shared.IdempotencyStore
func (s *RedisIdempotencyStore) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return data, true, nil
}

// Remember implements shared.IdempotencyStore. SETNX keeps the first
// response when two requests race on the same key.
func (s *RedisIdempotencyStore) Remember(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if err := s.client.SetNX(ctx, s.keyPrefix+key, response, ttl).Err(); err != nil {
		return fmt.Errorf("failed to remember idempotency key: %w", err)
	}
	return nil
}

// Close closes the Redis client when the store created it
func (s *RedisIdempotencyStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
