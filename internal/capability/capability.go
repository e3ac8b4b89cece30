// Package capability declares the interfaces the dispatcher and handlers are
// built from, and the registry categories that produce them.
package capability

import (
	"context"

	"github.com/JakeFAU/scrape-dispatch/internal/engine"
)

// Registry categories.
const (
	CategoryEngine     = "ENGINE"
	CategoryLogger     = "LOGGER"
	CategoryStore      = "STORE"
	CategoryCollector  = "COLLECTOR"
	CategoryHandler    = "HANDLER"
	CategoryConnection = "CONNECTION"
)

// Logger is the leveled key/value logger handed to plugins.
type Logger interface {
	Log(msg string, kv ...any)
	Debug(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// Store is a string key/value store. Implementations log transport failures
// and report them as a miss or a false return.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) bool
}

// Collector receives handler results. Partial failures are logged, not
// returned; the error is reserved for misuse such as collecting after Close.
type Collector interface {
	Collect(ctx context.Context, items ...any) error
}

// Handler services the jobs it claims.
type Handler interface {
	Init(ctx context.Context) error
	IsScrapeable(job engine.Job) bool
	Handle(ctx context.Context, job engine.Job) (any, error)
}

// Closer is implemented by capabilities holding resources.
type Closer interface {
	Close(ctx context.Context) error
}
