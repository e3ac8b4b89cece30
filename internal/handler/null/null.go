// Package null provides a handler that claims no jobs.
package null

import (
	"context"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Handler never reports a job as scrapeable.
type Handler struct{}

// Init implements capability.Handler.
func (Handler) Init(context.Context) error { return nil }

// IsScrapeable implements capability.Handler.
func (Handler) IsScrapeable(engine.Job) bool { return false }

// Handle implements capability.Handler.
func (Handler) Handle(context.Context, engine.Job) (any, error) { return nil, nil }

// NewProvider returns HANDLER/null.
func NewProvider() provider.Provider {
	return provider.NewSimple(capability.CategoryHandler, "null", Handler{})
}
