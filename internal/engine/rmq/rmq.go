// Package rmq consumes jobs from a RabbitMQ queue.
package rmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/id"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
	amqptransport "github.com/JakeFAU/scrape-dispatch/internal/transport/amqp"
)

const name = "rmq"

// Config configures the engine.
type Config struct {
	Connection  string        `mapstructure:"connection"`
	Queue       string        `mapstructure:"queue"`
	Prefetch    int           `mapstructure:"prefetch"`
	Durable     bool          `mapstructure:"durable"`
	Consumer    string        `mapstructure:"consumer"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Connection:  amqptransport.DefaultURL,
		Durable:     true,
		DialTimeout: 10 * time.Second,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Queue == "" {
		return fmt.Errorf("queue is required")
	}
	if c.Prefetch < 0 {
		return fmt.Errorf("prefetch must be >= 0")
	}
	return nil
}

// Dialer opens a broker session.
type Dialer func(cfg Config) (*amqptransport.Session, error)

func dial(cfg Config) (*amqptransport.Session, error) {
	return amqptransport.Dial(cfg.Connection, cfg.Consumer, cfg.DialTimeout)
}

// Engine delivers jobs from one queue with manual acknowledgement.
type Engine struct {
	cfg    Config
	dial   Dialer
	ids    id.Generator
	logger *zap.Logger

	mu        sync.Mutex
	session   *amqptransport.Session
	publisher *amqptransport.Publisher
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDialer replaces the broker dialer.
func WithDialer(d Dialer) Option {
	return func(e *Engine) { e.dial = d }
}

// New constructs an engine. Nothing is dialed until Init.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, dial: dial, ids: id.NewUUID(), logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewProvider returns the ENGINE/rmq provider.
func NewProvider(logger *zap.Logger) provider.Provider {
	return provider.Define(capability.CategoryEngine, name,
		func(_ context.Context, _ *provider.Registry, cfg Config) (any, error) {
			return New(cfg, logger.Named("engine.rmq")), nil
		},
		provider.WithDefaults(DefaultConfig),
	)
}

// Init dials the broker and declares the queue.
func (e *Engine) Init(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return nil
	}
	session, err := e.dial(e.cfg)
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "dial", Err: err}
	}
	if e.cfg.Prefetch > 0 {
		if err := session.Channel.Qos(e.cfg.Prefetch, 0, false); err != nil {
			_ = session.Close()
			return &engine.TransportError{Engine: name, Op: "qos", Err: err}
		}
	}
	if _, err := session.Channel.QueueDeclare(e.cfg.Queue, e.cfg.Durable, false, false, false, nil); err != nil {
		_ = session.Close()
		return &engine.TransportError{Engine: name, Op: "declare queue", Err: err}
	}
	e.session = session
	e.publisher = amqptransport.NewPublisher(session.Channel)
	e.logger.Info("connected to broker",
		zap.String("queue", e.cfg.Queue),
		zap.Int("prefetch", e.cfg.Prefetch))
	return nil
}

func (e *Engine) channel() (amqptransport.Channel, *amqptransport.Publisher, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, nil, errors.New("engine not initialized")
	}
	return e.session.Channel, e.publisher, nil
}

// Consume delivers jobs until ctx ends or the broker closes the consumer.
func (e *Engine) Consume(ctx context.Context, h engine.Handler) error {
	ch, _, err := e.channel()
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "consume", Err: err}
	}
	deliveries, err := ch.ConsumeWithContext(ctx, e.cfg.Queue, e.cfg.Consumer, false, false, false, false, nil)
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "consume", Err: err}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return &engine.TransportError{Engine: name, Op: "consume", Err: amqptransport.ErrDeliveriesClosed}
			}
			h(ctx, engine.NewJob(strconv.FormatUint(d.DeliveryTag, 10), d.Body, d))
		}
	}
}

func delivery(job engine.Job) (amqp.Delivery, error) {
	d, ok := job.Metadata.(amqp.Delivery)
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("job %s: metadata is %T, not an amqp delivery", job.ID, job.Metadata)
	}
	return d, nil
}

// Ack acknowledges the delivery.
func (e *Engine) Ack(_ context.Context, job engine.Job) error {
	d, err := delivery(job)
	if err != nil {
		return err
	}
	if err := d.Ack(false); err != nil {
		return &engine.TransportError{Engine: name, Op: "ack", Err: err}
	}
	return nil
}

// Response publishes result to the delivery's reply-to queue.
func (e *Engine) Response(ctx context.Context, job engine.Job, result any) error {
	d, err := delivery(job)
	if err != nil {
		return err
	}
	if d.ReplyTo == "" {
		return nil
	}
	_, publisher, err := e.channel()
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "respond", Err: err}
	}
	if err := rpc.Respond(ctx, publisher, amqptransport.FromDelivery(d), result); err != nil {
		return &engine.TransportError{Engine: name, Op: "respond", Err: err}
	}
	return nil
}

// Publish enqueues body on the engine's queue.
func (e *Engine) Publish(ctx context.Context, body []byte, replyTo string) (string, error) {
	_, publisher, err := e.channel()
	if err != nil {
		return "", &engine.TransportError{Engine: name, Op: "publish", Err: err}
	}
	msgID, err := e.ids.NewID()
	if err != nil {
		return "", err
	}
	msg := rpc.Message{CorrelationID: msgID, ReplyTo: replyTo, ContentType: rpc.ContentTypeJSON, Body: body}
	if err := publisher.Publish(ctx, e.cfg.Queue, msg); err != nil {
		return "", &engine.TransportError{Engine: name, Op: "publish", Err: err}
	}
	return msgID, nil
}

// Close closes the broker session.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}
