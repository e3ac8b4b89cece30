// Package memory records collected items for inspection.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Collector stores collected items in order.
type Collector struct {
	mu    sync.RWMutex
	items []any
}

// New returns an empty collector.
func New() *Collector {
	return &Collector{}
}

// Collect implements capability.Collector.
func (c *Collector) Collect(_ context.Context, items ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, items...)
	return nil
}

// Items returns a copy of the recorded items.
func (c *Collector) Items() []any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]any, len(c.items))
	copy(out, c.items)
	return out
}

// NewProvider returns COLLECTOR/memory. Every Make returns the same collector.
func NewProvider() provider.Provider {
	return provider.NewSimple(capability.CategoryCollector, "memory", New())
}
