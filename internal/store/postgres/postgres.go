// Package pgstore keeps store values in a Postgres table.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config configures the store.
type Config struct {
	// Connection is a CONNECTION/postgres config.
	Connection  any    `mapstructure:"connection"`
	Table       string `mapstructure:"table"`
	Namespace   string `mapstructure:"namespace"`
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

// Querier is the subset of *pgxpool.Pool used here.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store maps (namespace, key) rows to values. Database errors are logged and
// reported as a miss or a failed write.
type Store struct {
	db        Querier
	table     string
	namespace string
	logger    *zap.Logger
}

// New constructs a store. The table name must already be validated.
func New(db Querier, table, namespace string, logger *zap.Logger) *Store {
	return &Store{db: db, table: table, namespace: namespace, logger: logger}
}

// EnsureTable creates the backing table when missing.
func (s *Store) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	namespace text NOT NULL,
	key text NOT NULL,
	value text NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Get implements capability.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE namespace = $1 AND key = $2`, s.table)
	var value string
	err := s.db.QueryRow(ctx, query, s.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("postgres store get failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return value, true
}

// Set implements capability.Store.
func (s *Store) Set(ctx context.Context, key, value string) bool {
	query := fmt.Sprintf(`
INSERT INTO %s (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.db.Exec(ctx, query, s.namespace, key, value); err != nil {
		s.logger.Warn("postgres store set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// NewProvider returns STORE/postgres.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("store.postgres")
	return provider.Define(capability.CategoryStore, "postgres",
		func(ctx context.Context, r *provider.Registry, cfg Config) (any, error) {
			pool, err := provider.MakeAs[*pgxpool.Pool](ctx, r, capability.CategoryConnection, cfg.Connection)
			if err != nil {
				return nil, fmt.Errorf("postgres store connection: %w", err)
			}
			s := New(pool, cfg.Table, cfg.Namespace, log)
			if cfg.CreateTable {
				if err := s.EnsureTable(ctx); err != nil {
					return nil, err
				}
			}
			return s, nil
		},
		provider.WithDefaults(func() Config {
			return Config{Table: "dispatch_store", Namespace: "default"}
		}),
	)
}
