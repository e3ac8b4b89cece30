package provider

import "context"

// Simple registers an already-built instance; every Make returns it.
type Simple struct {
	category string
	name     string
	instance any
}

// NewSimple wraps instance as a provider.
func NewSimple(category, name string, instance any) *Simple {
	return &Simple{category: category, name: name, instance: instance}
}

// Category implements Provider.
func (s *Simple) Category() string { return normalizeCategory(s.category) }

// Name implements Provider.
func (s *Simple) Name() string { return normalizeName(s.name) }

// Init implements Provider.
func (s *Simple) Init(context.Context) error { return nil }

// AssertConfig accepts any config.
func (s *Simple) AssertConfig(any) error { return nil }

// Make returns the wrapped instance.
func (s *Simple) Make(context.Context, *Registry, any) (any, error) {
	return s.instance, nil
}
