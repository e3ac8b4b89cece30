package provider

import (
	"context"
)

// Factory builds an instance from a decoded config.
type Factory[C any] func(ctx context.Context, r *Registry, cfg C) (any, error)

// Typed is a Provider whose config decodes into C and validates itself.
type Typed[C any] struct {
	category string
	name     string
	build    Factory[C]
	defaults func() C
	init     func(ctx context.Context) error
	close    func(ctx context.Context) error
}

// TypedOption customizes a Typed provider.
type TypedOption[C any] func(*Typed[C])

// WithDefaults seeds every decoded config with fn's result.
func WithDefaults[C any](fn func() C) TypedOption[C] {
	return func(t *Typed[C]) { t.defaults = fn }
}

// WithInit runs fn when the provider is registered.
func WithInit[C any](fn func(ctx context.Context) error) TypedOption[C] {
	return func(t *Typed[C]) { t.init = fn }
}

// WithClose runs fn when the registry shuts down.
func WithClose[C any](fn func(ctx context.Context) error) TypedOption[C] {
	return func(t *Typed[C]) { t.close = fn }
}

// Define declares a provider with a typed config.
func Define[C any](category, name string, build Factory[C], opts ...TypedOption[C]) *Typed[C] {
	t := &Typed[C]{category: category, name: name, build: build}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Category implements Provider.
func (t *Typed[C]) Category() string { return normalizeCategory(t.category) }

// Name implements Provider.
func (t *Typed[C]) Name() string { return normalizeName(t.name) }

// Init implements Provider.
func (t *Typed[C]) Init(ctx context.Context) error {
	if t.init == nil {
		return nil
	}
	return t.init(ctx)
}

// AssertConfig decodes and validates cfg.
func (t *Typed[C]) AssertConfig(cfg any) error {
	_, err := t.Config(cfg)
	return err
}

// Config returns the decoded, validated config.
func (t *Typed[C]) Config(cfg any) (C, error) {
	var c C
	if t.defaults != nil {
		c = t.defaults()
	}
	switch v := cfg.(type) {
	case C:
		c = v
	case *C:
		if v != nil {
			c = *v
		}
	default:
		if err := Decode(cfg, &c); err != nil {
			return c, &ValidationError{Category: t.Category(), Name: t.Name(), Err: err}
		}
	}
	if err := validate(&c); err != nil {
		return c, &ValidationError{Category: t.Category(), Name: t.Name(), Err: err}
	}
	return c, nil
}

// Make implements Provider.
func (t *Typed[C]) Make(ctx context.Context, r *Registry, cfg any) (any, error) {
	c, err := t.Config(cfg)
	if err != nil {
		return nil, err
	}
	return t.build(ctx, r, c)
}

// Close implements Closer.
func (t *Typed[C]) Close(ctx context.Context) error {
	if t.close == nil {
		return nil
	}
	return t.close(ctx)
}
