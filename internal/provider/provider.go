// Package provider implements the typed, named factory registry used to build
// engines, handlers, collectors, stores, loggers and connections from config.
package provider

import (
	"context"
	"strings"
)

// DefaultName is the provider name used when configuration names none.
const DefaultName = "$default"

// Provider builds instances of one (category, name) pair.
type Provider interface {
	Category() string
	Name() string
	// Init runs once when the provider is registered at startup.
	Init(ctx context.Context) error
	// AssertConfig returns a descriptive error when cfg cannot be used.
	AssertConfig(cfg any) error
	// Make builds an instance. Providers that pool connections must cache
	// internally; the registry never deduplicates.
	Make(ctx context.Context, r *Registry, cfg any) (any, error)
}

// Closer is implemented by providers holding resources that outlive Make.
type Closer interface {
	Close(ctx context.Context) error
}

// Typer lets programmatic configs name their provider.
type Typer interface {
	ProviderType() string
}

// NameOf derives the provider name from a config value: a bare string names
// the provider, a map names it with its "type" field, anything else asks for
// default resolution.
func NameOf(cfg any) string {
	switch v := cfg.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		name, _ := v["type"].(string)
		return name
	case map[any]any:
		name, _ := v["type"].(string)
		return name
	case Typer:
		return v.ProviderType()
	default:
		return ""
	}
}

func normalizeCategory(category string) string {
	return strings.ToUpper(strings.TrimSpace(category))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Key renders the "category/name" form used by plugin selection patterns.
func Key(p Provider) string {
	return strings.ToLower(p.Category()) + "/" + normalizeName(p.Name())
}
