// Package group fans collected items out to several collectors.
package group

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Config lists the member collectors.
type Config struct {
	Collectors []any `mapstructure:"collectors"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if len(c.Collectors) == 0 {
		return fmt.Errorf("collectors must be a non-empty list")
	}
	return nil
}

// Collector forwards every Collect call to all members concurrently.
type Collector struct {
	members []capability.Collector
}

// New groups members.
func New(members ...capability.Collector) *Collector {
	return &Collector{members: members}
}

// Collect implements capability.Collector.
func (c *Collector) Collect(ctx context.Context, items ...any) error {
	switch len(c.members) {
	case 0:
		return nil
	case 1:
		return c.members[0].Collect(ctx, items...)
	}
	var g errgroup.Group
	for _, m := range c.members {
		g.Go(func() error { return m.Collect(ctx, items...) })
	}
	return g.Wait()
}

// Close closes members that hold resources.
func (c *Collector) Close(ctx context.Context) error {
	var errs []error
	for _, m := range c.members {
		if closer, ok := m.(capability.Closer); ok {
			if err := closer.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// NewProvider returns COLLECTOR/group.
func NewProvider() provider.Provider {
	return provider.Define(capability.CategoryCollector, "group",
		func(ctx context.Context, r *provider.Registry, cfg Config) (any, error) {
			members, err := provider.MakeAll[capability.Collector](ctx, r, capability.CategoryCollector, cfg.Collectors)
			if err != nil {
				return nil, fmt.Errorf("group collector: %w", err)
			}
			return New(members...), nil
		},
	)
}
