// Package memory provides an in-process key/value store.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Config selects a namespace. Stores built with the same namespace share data.
type Config struct {
	Namespace string `mapstructure:"namespace"`
}

// Store is a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New constructs an empty store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get implements capability.Store.
func (s *Store) Get(_ context.Context, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set implements capability.Store.
func (s *Store) Set(_ context.Context, key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return true
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// NewProvider returns STORE/memory.
func NewProvider() provider.Provider {
	var (
		mu     sync.Mutex
		stores = map[string]*Store{}
	)
	return provider.Define(capability.CategoryStore, "memory",
		func(_ context.Context, _ *provider.Registry, cfg Config) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			s, ok := stores[cfg.Namespace]
			if !ok {
				s = New()
				stores[cfg.Namespace] = s
			}
			return s, nil
		},
	)
}
