// Package redisstore keeps store values in one Redis hash.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Config configures the store.
type Config struct {
	// Connection is a CONNECTION/redis config.
	Connection any    `mapstructure:"connection"`
	Key        string `mapstructure:"redis_key"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("redis_key is required")
	}
	return nil
}

// HashClient is the subset of redis.Cmdable used here.
type HashClient interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// Store reads and writes fields of a single hash. Redis errors are logged
// and reported as a miss or a failed write.
type Store struct {
	client HashClient
	key    string
	logger *zap.Logger
}

// New constructs a store over the hash at key.
func New(client HashClient, key string, logger *zap.Logger) *Store {
	return &Store{client: client, key: key, logger: logger}
}

// Get implements capability.Store.
func (s *Store) Get(ctx context.Context, field string) (string, bool) {
	v, err := s.client.HGet(ctx, s.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("redis hget failed", zap.String("key", s.key), zap.String("field", field), zap.Error(err))
		return "", false
	}
	return v, true
}

// Set implements capability.Store.
func (s *Store) Set(ctx context.Context, field, value string) bool {
	if err := s.client.HSet(ctx, s.key, field, value).Err(); err != nil {
		s.logger.Warn("redis hset failed", zap.String("key", s.key), zap.String("field", field), zap.Error(err))
		return false
	}
	return true
}

// NewProvider returns STORE/redis.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("store.redis")
	return provider.Define(capability.CategoryStore, "redis",
		func(ctx context.Context, r *provider.Registry, cfg Config) (any, error) {
			client, err := provider.MakeAs[*redis.Client](ctx, r, capability.CategoryConnection, cfg.Connection)
			if err != nil {
				return nil, fmt.Errorf("redis store connection: %w", err)
			}
			return New(client, cfg.Key, log), nil
		},
		provider.WithDefaults(func() Config { return Config{Connection: "redis"} }),
	)
}
