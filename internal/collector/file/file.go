// Package filecollector writes each batch of collected items as a JSON Lines
// file under a local directory.
package filecollector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/clock"
	"github.com/JakeFAU/scrape-dispatch/internal/id"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Config names the output directory.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return errors.New("base_dir is required")
	}
	if strings.Contains(c.Prefix, "..") {
		return errors.New("prefix must stay inside base_dir")
	}
	return nil
}

// Collector writes one file per Collect call. Write failures are logged,
// not returned.
type Collector struct {
	cfg    Config
	clock  clock.Clock
	ids    id.Generator
	logger *zap.Logger
}

// New creates base_dir when missing and checks it is a writable directory.
func New(cfg Config, clk clock.Clock, ids id.Generator, logger *zap.Logger) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %s is not a directory", cfg.BaseDir)
	}
	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}
	return &Collector{cfg: cfg, clock: clk, ids: ids, logger: logger}, nil
}

// Collect implements capability.Collector.
func (c *Collector) Collect(_ context.Context, items ...any) error {
	if len(items) == 0 {
		return nil
	}
	path, err := c.write(items)
	if err != nil {
		c.logger.Warn("file collect failed", zap.Int("items", len(items)), zap.Error(err))
		metrics.ObserveCollected("file", len(items), false)
		return nil
	}
	c.logger.Debug("wrote collected items", zap.String("path", path), zap.Int("items", len(items)))
	metrics.ObserveCollected("file", len(items), true)
	return nil
}

func (c *Collector) write(items []any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return "", fmt.Errorf("encode item: %w", err)
		}
	}
	name, err := c.ids.NewID()
	if err != nil {
		return "", err
	}
	base := filepath.Clean(c.cfg.BaseDir)
	full := filepath.Join(base, filepath.FromSlash(strings.Trim(c.cfg.Prefix, "/")),
		c.clock.Now().UTC().Format("2006/01/02"), name+".jsonl")
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes base directory", full)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return full, nil
}

// NewProvider returns COLLECTOR/file.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("collector.file")
	return provider.Define(capability.CategoryCollector, "file",
		func(_ context.Context, _ *provider.Registry, cfg Config) (any, error) {
			return New(cfg, clock.New(), id.NewUUID(), log)
		},
	)
}
