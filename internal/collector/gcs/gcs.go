// Package gcscollector writes each batch of collected items as a JSON Lines
// object in Google Cloud Storage.
package gcscollector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/clock"
	"github.com/JakeFAU/scrape-dispatch/internal/id"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

const contentType = "application/x-ndjson"

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket name is required")
	}
	return nil
}

// ObjectWriterFunc opens a writer for bucket/object.
type ObjectWriterFunc func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// StorageWriter opens object writers on client.
func StorageWriter(client *storage.Client) ObjectWriterFunc {
	return func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}
}

// Collector uploads one object per Collect call. Upload failures are logged,
// not returned.
type Collector struct {
	cfg    Config
	open   ObjectWriterFunc
	clock  clock.Clock
	ids    id.Generator
	close  func() error
	logger *zap.Logger
}

// New constructs a collector.
func New(cfg Config, open ObjectWriterFunc, clk clock.Clock, ids id.Generator, logger *zap.Logger) *Collector {
	return &Collector{cfg: cfg, open: open, clock: clk, ids: ids, logger: logger}
}

// Collect implements capability.Collector.
func (c *Collector) Collect(ctx context.Context, items ...any) error {
	if len(items) == 0 {
		return nil
	}
	uri, err := c.put(ctx, items)
	if err != nil {
		c.logger.Warn("gcs collect failed", zap.Int("items", len(items)), zap.Error(err))
		metrics.ObserveCollected("gcs", len(items), false)
		return nil
	}
	c.logger.Debug("wrote collected items", zap.String("uri", uri), zap.Int("items", len(items)))
	metrics.ObserveCollected("gcs", len(items), true)
	return nil
}

func (c *Collector) objectPath() (string, error) {
	objectID, err := c.ids.NewID()
	if err != nil {
		return "", err
	}
	now := c.clock.Now()
	return path.Join(strings.Trim(c.cfg.Prefix, "/"), now.Format("2006/01/02"), objectID+".jsonl"), nil
}

func (c *Collector) put(ctx context.Context, items []any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return "", fmt.Errorf("encode item: %w", err)
		}
	}
	object, err := c.objectPath()
	if err != nil {
		return "", err
	}
	writer := c.open(ctx, c.cfg.Bucket, object, contentType)
	if _, err := io.Copy(writer, &buf); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", c.cfg.Bucket, object), nil
}

// Close releases the storage client.
func (c *Collector) Close(context.Context) error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// NewProvider returns COLLECTOR/gcs.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("collector.gcs")
	return provider.Define(capability.CategoryCollector, "gcs",
		func(ctx context.Context, _ *provider.Registry, cfg Config) (any, error) {
			client, err := storage.NewClient(ctx)
			if err != nil {
				return nil, fmt.Errorf("create storage client: %w", err)
			}
			c := New(cfg, StorageWriter(client), clock.New(), id.NewUUID(), log)
			c.close = client.Close
			return c, nil
		},
	)
}
