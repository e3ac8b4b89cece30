// Package batch buffers collected items and forwards them to another
// collector in size- or time-bounded batches.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/collector"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// Config controls batching.
//   - Collector: the downstream COLLECTOR config.
//   - BufferSize: size of the internal channel.
//   - MaxItems: flush once this many items queue.
//   - MaxWait: flush after this duration even if the batch is small.
//   - FlushTimeout: timeout for each downstream Collect call.
type Config struct {
	Collector    any           `mapstructure:"collector"`
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxItems     int           `mapstructure:"max_items"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// DefaultConfig returns the batching defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:   1024,
		MaxItems:     100,
		MaxWait:      time.Second,
		FlushTimeout: 10 * time.Second,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Collector == nil {
		return fmt.Errorf("collector is required")
	}
	if c.BufferSize <= 0 || c.MaxItems <= 0 {
		return fmt.Errorf("buffer_size and max_items must be > 0")
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be > 0")
	}
	return nil
}

// Collector batches items for a downstream collector. It is safe for
// concurrent use.
type Collector struct {
	cfg    Config
	next   capability.Collector
	logger *zap.Logger
	items  chan any
	stopCh chan struct{}
	doneCh chan struct{}

	closeOnce sync.Once
	closeCtx  context.Context
}

// New starts the batching goroutine.
func New(cfg Config, next capability.Collector, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		cfg:    cfg,
		next:   next,
		logger: logger,
		items:  make(chan any, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go c.run()
	return c
}

// Collect queues items, blocking while the buffer is full.
func (c *Collector) Collect(ctx context.Context, items ...any) error {
	for _, item := range items {
		select {
		case <-c.stopCh:
			return collector.ErrClosed
		default:
		}
		select {
		case c.items <- item:
		case <-c.stopCh:
			return collector.ErrClosed
		case <-ctx.Done():
			return fmt.Errorf("batch collect canceled: %w", ctx.Err())
		}
	}
	return nil
}

// Close flushes buffered items, closes the downstream collector when it holds
// resources, and waits for the batching goroutine to exit.
func (c *Collector) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeCtx = ctx
		close(c.stopCh)
	})
	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batch collector close wait: %w", ctx.Err())
	}
}

func (c *Collector) run() {
	defer close(c.doneCh)
	batch := make([]any, 0, c.cfg.MaxItems)
	timer := time.NewTimer(c.cfg.MaxWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case item := <-c.items:
			batch = append(batch, item)
			if len(batch) >= c.cfg.MaxItems {
				c.flush(batch)
				batch = batch[:0]
				stopTimer(timer, &timerActive)
			} else if !timerActive {
				timer.Reset(c.cfg.MaxWait)
				timerActive = true
			}
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				c.flush(batch)
				batch = batch[:0]
			}
		case <-c.stopCh:
			stopTimer(timer, &timerActive)
			c.drain(batch)
			return
		}
	}
}

func (c *Collector) drain(batch []any) {
	for {
		select {
		case item := <-c.items:
			batch = append(batch, item)
			if len(batch) >= c.cfg.MaxItems {
				c.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				c.flush(batch)
			}
			if closer, ok := c.next.(capability.Closer); ok {
				if err := closer.Close(c.closeCtx); err != nil {
					c.logger.Warn("downstream collector close failed", zap.Error(err))
				}
			}
			return
		}
	}
}

func stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

func (c *Collector) flush(batch []any) {
	copyBatch := append([]any(nil), batch...)
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushTimeout)
	defer cancel()
	err := c.next.Collect(ctx, copyBatch...)
	if err != nil {
		c.logger.Warn("batch flush failed", zap.Int("items", len(copyBatch)), zap.Error(err))
	}
	metrics.ObserveCollected("batch", len(copyBatch), err == nil)
}

// NewProvider returns COLLECTOR/batch.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("collector.batch")
	return provider.Define(capability.CategoryCollector, "batch",
		func(ctx context.Context, r *provider.Registry, cfg Config) (any, error) {
			next, err := provider.MakeAs[capability.Collector](ctx, r, capability.CategoryCollector, cfg.Collector)
			if err != nil {
				return nil, fmt.Errorf("batch downstream: %w", err)
			}
			return New(cfg, next, log), nil
		},
		provider.WithDefaults(DefaultConfig),
	)
}
