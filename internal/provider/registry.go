package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry indexes providers by category and name. It is populated during
// startup and read afterwards.
type Registry struct {
	mu         sync.RWMutex
	byCategory map[string]map[string]Provider
	order      map[string][]Provider
	all        []Provider
	logger     *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byCategory: make(map[string]map[string]Provider),
		order:      make(map[string][]Provider),
		logger:     logger.Named("registry"),
	}
}

// Add registers p. A second provider with the same (category, name) is ignored.
func (r *Registry) Add(p Provider) error {
	_, err := r.add(p)
	return err
}

func (r *Registry) add(p Provider) (bool, error) {
	if p == nil {
		return false, ErrNilProvider
	}
	category := normalizeCategory(p.Category())
	name := normalizeName(p.Name())

	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.byCategory[category]
	if !ok {
		byName = make(map[string]Provider)
		r.byCategory[category] = byName
	}
	if _, exists := byName[name]; exists {
		r.logger.Debug("ignoring duplicate provider",
			zap.String("category", category),
			zap.String("provider", name),
		)
		return false, nil
	}
	byName[name] = p
	r.order[category] = append(r.order[category], p)
	r.all = append(r.all, p)
	return true, nil
}

// Register adds every provider and calls Init on the ones that were accepted.
func (r *Registry) Register(ctx context.Context, providers ...Provider) error {
	for _, p := range providers {
		added, err := r.add(p)
		if err != nil {
			return err
		}
		if !added {
			continue
		}
		if err := p.Init(ctx); err != nil {
			return fmt.Errorf("init provider %s: %w", Key(p), err)
		}
	}
	return nil
}

// Provider looks up a provider. An empty name resolves to the $default
// provider, then to the first provider registered in the category.
func (r *Registry) Provider(category, name string) (Provider, bool) {
	category = normalizeCategory(category)
	name = normalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()
	byName := r.byCategory[category]
	if name != "" {
		p, ok := byName[name]
		return p, ok
	}
	if p, ok := byName[DefaultName]; ok {
		return p, true
	}
	if list := r.order[category]; len(list) > 0 {
		return list[0], true
	}
	return nil, false
}

// Providers lists registered providers ordered by category then name.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	out := append([]Provider(nil), r.all...)
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return Key(out[i]) < Key(out[j])
	})
	return out
}

// Make resolves the provider named by cfg, validates cfg and builds an instance.
func (r *Registry) Make(ctx context.Context, category string, cfg any) (any, error) {
	name := NameOf(cfg)
	p, ok := r.Provider(category, name)
	if !ok {
		return nil, &ResolutionError{Category: normalizeCategory(category), Name: normalizeName(name)}
	}
	if err := p.AssertConfig(cfg); err != nil {
		return nil, wrapValidation(p, err)
	}
	instance, err := p.Make(ctx, r, cfg)
	if err != nil {
		return nil, fmt.Errorf("make %s: %w", Key(p), err)
	}
	return instance, nil
}

// Close releases provider-held resources in reverse registration order.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	all := append([]Provider(nil), r.all...)
	r.mu.RUnlock()

	var errs []error
	for i := len(all) - 1; i >= 0; i-- {
		c, ok := all[i].(Closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", Key(all[i]), err))
		}
	}
	return errors.Join(errs...)
}

// MakeAs builds an instance and asserts it has type T.
func MakeAs[T any](ctx context.Context, r *Registry, category string, cfg any) (T, error) {
	var zero T
	instance, err := r.Make(ctx, category, cfg)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s built %T, want %T", ErrUnexpectedType, normalizeCategory(category), instance, zero)
	}
	return typed, nil
}

// MakeAll builds one instance per config, preserving order.
func MakeAll[T any](ctx context.Context, r *Registry, category string, cfgs []any) ([]T, error) {
	out := make([]T, 0, len(cfgs))
	for i, cfg := range cfgs {
		instance, err := MakeAs[T](ctx, r, category, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", normalizeCategory(category), i, err)
		}
		out = append(out, instance)
	}
	return out, nil
}

func wrapValidation(p Provider, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &ValidationError{Category: normalizeCategory(p.Category()), Name: normalizeName(p.Name()), Err: err}
}
