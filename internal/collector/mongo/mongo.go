// Package mongocollector writes collected items to a MongoDB collection,
// either inserting them or upserting them by key fields.
package mongocollector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Config configures the collector.
type Config struct {
	// Connection is a CONNECTION/mongo config.
	Connection any    `mapstructure:"connection"`
	DB         string `mapstructure:"db"`
	Collection string `mapstructure:"collection"`
	// Update maps filter fields to dotted paths in each item. When set, items
	// are upserted instead of inserted.
	Update map[string]string `mapstructure:"update"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("db is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	for field, path := range c.Update {
		if field == "" || path == "" {
			return fmt.Errorf("update entries must map a field to a path")
		}
	}
	return nil
}

// Writer is the subset of *mongo.Collection used here.
type Writer interface {
	InsertMany(ctx context.Context, documents any, opts ...options.Lister[options.InsertManyOptions]) (*mongo.InsertManyResult, error)
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...options.Lister[options.BulkWriteOptions]) (*mongo.BulkWriteResult, error)
}

// Collector writes items to a collection. Write failures are logged, not
// returned.
type Collector struct {
	coll   Writer
	update map[string]string
	keys   []string
	logger *zap.Logger
}

// New constructs a collector. A non-empty update mapping selects upserts.
func New(coll Writer, update map[string]string, logger *zap.Logger) *Collector {
	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Collector{coll: coll, update: update, keys: keys, logger: logger}
}

// Collect implements capability.Collector.
func (c *Collector) Collect(ctx context.Context, items ...any) error {
	if len(items) == 0 {
		return nil
	}
	var err error
	if len(c.update) == 0 {
		err = c.insert(ctx, items)
	} else {
		err = c.upsert(ctx, items)
	}
	if err != nil {
		c.logger.Warn("mongo collect failed", zap.Int("items", len(items)), zap.Error(err))
	}
	metrics.ObserveCollected("mongo", len(items), err == nil)
	return nil
}

func (c *Collector) insert(ctx context.Context, items []any) error {
	docs := make([]any, 0, len(items))
	for _, item := range items {
		doc, err := document(item)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if _, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("insert many: %w", err)
	}
	return nil
}

func (c *Collector) upsert(ctx context.Context, items []any) error {
	models := make([]mongo.WriteModel, 0, len(items))
	for _, item := range items {
		doc, err := document(item)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(c.filter(doc)).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}
	return nil
}

func (c *Collector) filter(doc map[string]any) bson.D {
	filter := make(bson.D, 0, len(c.keys))
	for _, field := range c.keys {
		filter = append(filter, bson.E{Key: field, Value: lookup(doc, c.update[field])})
	}
	return filter
}

// document normalizes an item to a map through its JSON form.
func document(item any) (map[string]any, error) {
	if m, ok := item.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("item %T is not an object: %w", item, err)
	}
	return doc, nil
}

// lookup reads a dotted path from doc, returning nil when absent.
func lookup(doc map[string]any, path string) any {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// NewProvider returns COLLECTOR/mongo.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("collector.mongo")
	return provider.Define(capability.CategoryCollector, "mongo",
		func(ctx context.Context, r *provider.Registry, cfg Config) (any, error) {
			client, err := provider.MakeAs[*mongo.Client](ctx, r, capability.CategoryConnection, cfg.Connection)
			if err != nil {
				return nil, fmt.Errorf("mongo collector connection: %w", err)
			}
			return New(client.Database(cfg.DB).Collection(cfg.Collection), cfg.Update, log), nil
		},
		provider.WithDefaults(func() Config { return Config{Connection: "mongo"} }),
	)
}
