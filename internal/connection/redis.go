package connection

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// RedisConfig configures a Redis client. URL, when set, takes precedence.
type RedisConfig struct {
	URL      string `mapstructure:"url" json:"url,omitempty"`
	Addr     string `mapstructure:"addr" json:"addr,omitempty"`
	Username string `mapstructure:"username" json:"username,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db"`
}

// Validate checks the config.
func (c RedisConfig) Validate() error {
	if c.URL == "" && c.Addr == "" {
		return fmt.Errorf("addr or url is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must be >= 0")
	}
	return nil
}

func (c RedisConfig) options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.Addr, Username: c.Username, Password: c.Password, DB: c.DB}, nil
}

// NewRedisProvider returns CONNECTION/redis, which builds *redis.Client.
func NewRedisProvider(logger *zap.Logger) provider.Provider {
	clients := newPool[*redis.Client]("redis", logger.Named("connection"))
	return provider.Define(capability.CategoryConnection, "redis",
		func(_ context.Context, _ *provider.Registry, cfg RedisConfig) (any, error) {
			return clients.get(cfg, func() (*redis.Client, error) {
				opts, err := cfg.options()
				if err != nil {
					return nil, err
				}
				return redis.NewClient(opts), nil
			})
		},
		provider.WithDefaults(func() RedisConfig { return RedisConfig{Addr: "localhost:6379"} }),
		provider.WithClose[RedisConfig](func(context.Context) error {
			return clients.closeAll(func(c *redis.Client) error { return c.Close() })
		}),
	)
}
