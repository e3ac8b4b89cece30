// Package console writes collected items to a LOGGER capability.
package console

import (
	"context"
	"fmt"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Config configures the collector.
type Config struct {
	// Logger is a LOGGER config; empty uses the default logger.
	Logger any    `mapstructure:"logger"`
	Msg    string `mapstructure:"msg"`
}

// Collector logs every item.
type Collector struct {
	logger capability.Logger
	msg    string
}

// New constructs a collector writing through logger.
func New(logger capability.Logger, msg string) *Collector {
	if msg == "" {
		msg = "collected"
	}
	return &Collector{logger: logger, msg: msg}
}

// Collect implements capability.Collector.
func (c *Collector) Collect(_ context.Context, items ...any) error {
	for _, item := range items {
		c.logger.Log(c.msg, "item", item)
	}
	metrics.ObserveCollected("console", len(items), true)
	return nil
}

// NewProvider returns COLLECTOR/console.
func NewProvider() provider.Provider {
	return provider.Define(capability.CategoryCollector, "console",
		func(ctx context.Context, r *provider.Registry, cfg Config) (any, error) {
			logger, err := provider.MakeAs[capability.Logger](ctx, r, capability.CategoryLogger, cfg.Logger)
			if err != nil {
				return nil, fmt.Errorf("console collector logger: %w", err)
			}
			return New(logger, cfg.Msg), nil
		},
	)
}
