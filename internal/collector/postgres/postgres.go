// Package pgcollector stores collected items as JSONB rows.
package pgcollector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/clock"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config configures the collector.
type Config struct {
	// Connection is a CONNECTION/postgres config.
	Connection  any    `mapstructure:"connection"`
	Table       string `mapstructure:"table"`
	CreateTable bool   `mapstructure:"create_table"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Connection == nil {
		return fmt.Errorf("connection is required")
	}
	if !validTableName.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	return nil
}

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// Collector inserts one row per item. Insert failures are logged, not
// returned.
type Collector struct {
	db     execer
	table  string
	clock  clock.Clock
	logger *zap.Logger
}

// New constructs a collector over an existing pool.
func New(db execer, table string, clk clock.Clock, logger *zap.Logger) (*Collector, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Collector{db: db, table: table, clock: clk, logger: logger}, nil
}

// EnsureTable creates the results table when missing.
func (c *Collector) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	payload jsonb NOT NULL,
	collected_at timestamptz NOT NULL
)`, c.table)
	if _, err := c.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", c.table, err)
	}
	return nil
}

// Collect implements capability.Collector.
func (c *Collector) Collect(ctx context.Context, items ...any) error {
	query := fmt.Sprintf(`INSERT INTO %s (payload, collected_at) VALUES ($1, $2)`, c.table)
	now := c.clock.Now()
	stored := 0
	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			c.logger.Warn("marshal collected item", zap.Error(err))
			continue
		}
		if _, err := c.db.Exec(ctx, query, payload, now); err != nil {
			c.logger.Warn("insert collected item", zap.String("table", c.table), zap.Error(err))
			continue
		}
		stored++
	}
	if stored > 0 {
		metrics.ObserveCollected("postgres", stored, true)
	}
	if failed := len(items) - stored; failed > 0 {
		metrics.ObserveCollected("postgres", failed, false)
	}
	return nil
}

// NewProvider returns COLLECTOR/postgres.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("collector.postgres")
	return provider.Define(capability.CategoryCollector, "postgres",
		func(ctx context.Context, r *provider.Registry, cfg Config) (any, error) {
			pool, err := provider.MakeAs[*pgxpool.Pool](ctx, r, capability.CategoryConnection, cfg.Connection)
			if err != nil {
				return nil, fmt.Errorf("postgres collector connection: %w", err)
			}
			c, err := New(pool, cfg.Table, clock.New(), log)
			if err != nil {
				return nil, err
			}
			if cfg.CreateTable {
				if err := c.EnsureTable(ctx); err != nil {
					return nil, err
				}
			}
			return c, nil
		},
		provider.WithDefaults(func() Config { return Config{Table: "dispatch_results"} }),
	)
}
