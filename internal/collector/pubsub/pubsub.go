// Package pubsubcollector publishes collected items to a Pub/Sub topic.
package pubsubcollector

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
	pubsubtransport "github.com/JakeFAU/scrape-dispatch/internal/transport/pubsub"
)

// Config configures the collector.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	return nil
}

// Collector publishes one JSON message per item. Publish failures are
// logged, not returned.
type Collector struct {
	topic  string
	send   pubsubtransport.SendFunc
	close  func() error
	logger *zap.Logger
}

// New constructs a collector publishing through send.
func New(topic string, send pubsubtransport.SendFunc, closeFn func() error, logger *zap.Logger) *Collector {
	return &Collector{topic: topic, send: send, close: closeFn, logger: logger}
}

// Collect implements capability.Collector.
func (c *Collector) Collect(ctx context.Context, items ...any) error {
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			c.logger.Warn("marshal collected item", zap.Error(err))
			metrics.ObserveCollected("pubsub", 1, false)
			continue
		}
		msg := &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{pubsubtransport.AttrContentType: rpc.ContentTypeJSON},
		}
		if _, err := c.send(ctx, c.topic, msg); err != nil {
			c.logger.Warn("publish collected item", zap.String("topic", c.topic), zap.Error(err))
			metrics.ObserveCollected("pubsub", 1, false)
			continue
		}
		metrics.ObserveCollected("pubsub", 1, true)
	}
	return nil
}

// Close stops the publisher.
func (c *Collector) Close(context.Context) error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// NewProvider returns COLLECTOR/pubsub.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("collector.pubsub")
	return provider.Define(capability.CategoryCollector, "pubsub",
		func(ctx context.Context, _ *provider.Registry, cfg Config) (any, error) {
			client, err := pubsub.NewClient(ctx, cfg.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("create pubsub client: %w", err)
			}
			pub := pubsubtransport.NewPublisher(client)
			return New(cfg.Topic, pub.Send, func() error {
				pub.Stop()
				return client.Close()
			}, log), nil
		},
	)
}
