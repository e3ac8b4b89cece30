package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// PostgresConfig controls the pgx connection pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn" json:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns" json:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" json:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" json:"max_conn_lifetime"`
}

// Validate checks the config.
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if c.MaxConns < 0 || c.MinConns < 0 {
		return fmt.Errorf("max_conns and min_conns must be >= 0")
	}
	if c.MaxConns > 0 && c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns must be <= max_conns")
	}
	return nil
}

// NewPostgresProvider returns CONNECTION/postgres, which builds *pgxpool.Pool.
func NewPostgresProvider(logger *zap.Logger) provider.Provider {
	pools := newPool[*pgxpool.Pool]("postgres", logger.Named("connection"))
	return provider.Define(capability.CategoryConnection, "postgres",
		func(ctx context.Context, _ *provider.Registry, cfg PostgresConfig) (any, error) {
			return pools.get(cfg, func() (*pgxpool.Pool, error) {
				poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
				if err != nil {
					return nil, fmt.Errorf("parse postgres dsn: %w", err)
				}
				if cfg.MaxConns > 0 {
					poolCfg.MaxConns = cfg.MaxConns
				}
				if cfg.MinConns > 0 {
					poolCfg.MinConns = cfg.MinConns
				}
				if cfg.MaxConnLifetime > 0 {
					poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
				}
				return pgxpool.NewWithConfig(ctx, poolCfg)
			})
		},
		provider.WithClose[PostgresConfig](func(context.Context) error {
			return pools.closeAll(func(p *pgxpool.Pool) error {
				p.Close()
				return nil
			})
		}),
	)
}
