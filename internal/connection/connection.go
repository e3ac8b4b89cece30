// Package connection provides the CONNECTION providers. Each provider keeps
// one client per distinct configuration and closes them all on shutdown.
package connection

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/hash"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// pool caches clients by the hash of the config that opened them.
type pool[T any] struct {
	kind   string
	hasher hash.Hasher
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]T
	order   []string
}

func newPool[T any](kind string, logger *zap.Logger) *pool[T] {
	return &pool[T]{kind: kind, hasher: hash.New(), logger: logger, clients: map[string]T{}}
}

func (p *pool[T]) get(cfg any, open func() (T, error)) (T, error) {
	var zero T
	key, err := p.hasher.Value(cfg)
	if err != nil {
		return zero, fmt.Errorf("hash %s config: %w", p.kind, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := open()
	if err != nil {
		return zero, fmt.Errorf("open %s connection: %w", p.kind, err)
	}
	p.clients[key] = c
	p.order = append(p.order, key)
	p.logger.Debug("opened connection", zap.String("kind", p.kind), zap.String("config_hash", key[:12]))
	return c, nil
}

func (p *pool[T]) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *pool[T]) closeAll(closeFn func(T) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for i := len(p.order) - 1; i >= 0; i-- {
		key := p.order[i]
		if err := closeFn(p.clients[key]); err != nil {
			errs = append(errs, fmt.Errorf("close %s connection: %w", p.kind, err))
		}
		delete(p.clients, key)
	}
	p.order = nil
	return errors.Join(errs...)
}

// Providers returns the redis, mongo and postgres connection providers.
func Providers(logger *zap.Logger) []provider.Provider {
	return []provider.Provider{
		NewRedisProvider(logger),
		NewMongoProvider(logger),
		NewPostgresProvider(logger),
	}
}
