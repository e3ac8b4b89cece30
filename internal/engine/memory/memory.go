// Package memory provides an in-process engine for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
)

// ErrClosed is returned when publishing to a closed engine.
var ErrClosed = errors.New("memory engine closed")

// Config configures the engine.
type Config struct {
	Capacity int `mapstructure:"capacity"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be > 0")
	}
	return nil
}

// Delivery is the Job metadata produced by this engine.
type Delivery struct {
	ReplyTo string
}

// Response is a reply recorded by the engine.
type Response struct {
	JobID   string
	ReplyTo string
	Message rpc.Message
}

type item struct {
	id      string
	body    []byte
	replyTo string
}

// Engine is a bounded channel queue with context-aware operations.
type Engine struct {
	ch      chan item
	seq     atomic.Uint64
	closeMu sync.Mutex
	closed  bool

	mu        sync.Mutex
	acked     []string
	responses []Response
	replies   rpc.Publisher
}

// Option customizes an Engine.
type Option func(*Engine)

// WithReplyPublisher forwards responses to p in addition to recording them.
func WithReplyPublisher(p rpc.Publisher) Option {
	return func(e *Engine) { e.replies = p }
}

// New constructs an engine with the provided capacity.
func New(capacity int, opts ...Option) *Engine {
	e := &Engine{ch: make(chan item, capacity)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewProvider returns the ENGINE/memory provider.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("engine.memory")
	return provider.Define(capability.CategoryEngine, "memory",
		func(_ context.Context, _ *provider.Registry, cfg Config) (any, error) {
			log.Debug("building memory engine", zap.Int("capacity", cfg.Capacity))
			return New(cfg.Capacity), nil
		},
		provider.WithDefaults(func() Config { return Config{Capacity: 1024} }),
	)
}

// Init implements engine.Engine.
func (e *Engine) Init(context.Context) error { return nil }

// Publish enqueues body or returns if the context ends.
func (e *Engine) Publish(ctx context.Context, body []byte, replyTo string) (id string, err error) {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return "", ErrClosed
	}
	id = strconv.FormatUint(e.seq.Add(1), 10)
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case e.ch <- item{id: id, body: body, replyTo: replyTo}:
		return id, nil
	}
}

// Consume delivers queued jobs to h until ctx ends or the engine closes.
func (e *Engine) Consume(ctx context.Context, h engine.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case it, ok := <-e.ch:
			if !ok {
				return nil
			}
			h(ctx, engine.NewJob(it.id, it.body, &Delivery{ReplyTo: it.replyTo}))
		}
	}
}

// Ack records the job id.
func (e *Engine) Ack(_ context.Context, job engine.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acked = append(e.acked, job.ID)
	return nil
}

// Response records the reply, and forwards it when a reply publisher is set.
func (e *Engine) Response(ctx context.Context, job engine.Job, result any) error {
	d, ok := job.Metadata.(*Delivery)
	if !ok || d.ReplyTo == "" {
		return nil
	}
	body, contentType, err := rpc.Encode(result)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	msg := rpc.Message{CorrelationID: job.ID, ContentType: contentType, Body: body}
	e.mu.Lock()
	e.responses = append(e.responses, Response{JobID: job.ID, ReplyTo: d.ReplyTo, Message: msg})
	replies := e.replies
	e.mu.Unlock()
	if replies != nil {
		return replies.Publish(ctx, d.ReplyTo, msg)
	}
	return nil
}

// Acked returns the acknowledged job ids in order.
func (e *Engine) Acked() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.acked...)
}

// Responses returns the recorded replies in order.
func (e *Engine) Responses() []Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Response(nil), e.responses...)
}

// Close stops delivery. Closing twice is safe.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return nil
	}
	close(e.ch)
	e.closed = true
	return nil
}
