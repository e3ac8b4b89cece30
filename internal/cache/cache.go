// Package cache holds a single expensive value with a TTL and refreshes it
// at most once at a time, sharing the refresh outcome with every waiter.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/scrape-dispatch/internal/clock"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
)

const flightKey = "resource"

// ErrRefresh marks failures of the cache factory.
var ErrRefresh = errors.New("resource refresh failed")

// RefreshError is returned to every caller waiting on a failed refresh.
type RefreshError struct {
	Cache string
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %s: %v", e.Cache, e.Err)
}

// Unwrap exposes both ErrRefresh and the factory error.
func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefresh, e.Err}
}

// Factory produces a fresh value.
type Factory[T any] func(ctx context.Context) (T, error)

// ResourceCache is a single-value TTL cache with single-flight refresh.
type ResourceCache[T any] struct {
	ttl     time.Duration
	factory Factory[T]
	clock   clock.Clock
	name    string
	logger  *zap.Logger
	group   singleflight.Group

	mu         sync.Mutex
	value      T
	valid      bool
	expiresAt  time.Time
	refreshing bool
}

// Option configures a ResourceCache.
type Option func(*options)

type options struct {
	clock  clock.Clock
	name   string
	logger *zap.Logger
}

// WithClock overrides the time source used for expiry.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithName labels the cache in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger used for refresh diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New builds a cache around factory. A ttl <= 0 makes every Acquire refresh.
func New[T any](ttl time.Duration, factory Factory[T], opts ...Option) *ResourceCache[T] {
	o := options{clock: clock.New(), name: "resource", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &ResourceCache[T]{
		ttl:     ttl,
		factory: factory,
		clock:   o.clock,
		name:    o.name,
		logger:  o.logger.Named("cache").With(zap.String("cache", o.name)),
	}
}

// Acquire returns the cached value, joining or starting a refresh when the
// value is missing or expired. A canceled ctx abandons the wait but not the
// refresh itself.
func (c *ResourceCache[T]) Acquire(ctx context.Context) (T, error) {
	if v, ok := c.cached(); ok {
		return v, nil
	}
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("acquire %s: %w", c.name, ctx.Err())
	}
}

// Release drops the cached value so the next Acquire refreshes. It does
// nothing while a refresh is in flight.
func (c *ResourceCache[T]) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshing {
		return
	}
	c.clear()
}

func (c *ResourceCache[T]) cached() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshing || !c.valid || !c.clock.Now().Before(c.expiresAt) {
		var zero T
		return zero, false
	}
	return c.value, true
}

func (c *ResourceCache[T]) refresh(ctx context.Context) (any, error) {
	c.mu.Lock()
	// A refresh that finished between the caller's check and this flight
	// already produced a usable value.
	if c.valid && c.clock.Now().Before(c.expiresAt) {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.refreshing = true
	c.clear()
	c.mu.Unlock()

	v, err := c.invoke(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshing = false
	metrics.ObserveCacheRefresh(c.name, err == nil)
	if err != nil {
		c.logger.Warn("resource refresh failed", zap.Error(err))
		return nil, &RefreshError{Cache: c.name, Err: err}
	}
	c.value = v
	c.valid = true
	c.expiresAt = c.clock.Now().Add(c.ttl)
	c.logger.Debug("resource refreshed", zap.Time("expires_at", c.expiresAt))
	return v, nil
}

func (c *ResourceCache[T]) invoke(ctx context.Context) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("factory panic: %v", rec)
		}
	}()
	return c.factory(ctx)
}

func (c *ResourceCache[T]) clear() {
	var zero T
	c.value = zero
	c.valid = false
	c.expiresAt = time.Time{}
}
