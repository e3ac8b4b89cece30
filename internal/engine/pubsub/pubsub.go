// Package pubsubengine receives jobs from a Google Cloud Pub/Sub subscription.
package pubsubengine

import (
	"context"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
	pubsubtransport "github.com/JakeFAU/scrape-dispatch/internal/transport/pubsub"
)

const name = "pubsub"

// Config configures the engine.
type Config struct {
	ProjectID      string `mapstructure:"project_id"`
	Subscription   string `mapstructure:"subscription"`
	Topic          string `mapstructure:"topic"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if c.Subscription == "" {
		return fmt.Errorf("subscription is required")
	}
	if c.MaxOutstanding < 0 {
		return fmt.Errorf("max_outstanding must be >= 0")
	}
	return nil
}

// Receiver is the subset of *pubsub.Subscriber used here.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Client bundles what the engine needs from a Pub/Sub client.
type Client struct {
	Receiver Receiver
	Send     pubsubtransport.SendFunc
	Close    func() error
}

// Connector builds a Client from config.
type Connector func(ctx context.Context, cfg Config) (*Client, error)

func connect(ctx context.Context, cfg Config) (*Client, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	sub := client.Subscriber(cfg.Subscription)
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	pub := pubsubtransport.NewPublisher(client)
	return &Client{
		Receiver: sub,
		Send:     pub.Send,
		Close: func() error {
			pub.Stop()
			return client.Close()
		},
	}, nil
}

// Delivery is the Job metadata produced by this engine.
type Delivery struct {
	Message *pubsub.Message
	ack     func()
}

// Engine delivers Pub/Sub messages.
type Engine struct {
	cfg     Config
	connect Connector
	logger  *zap.Logger

	mu     sync.Mutex
	client *Client
}

// Option customizes an Engine.
type Option func(*Engine)

// WithConnector replaces the client connector.
func WithConnector(c Connector) Option {
	return func(e *Engine) { e.connect = c }
}

// New constructs an engine. Nothing is connected until Init.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, connect: connect, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewProvider returns the ENGINE/pubsub provider.
func NewProvider(logger *zap.Logger) provider.Provider {
	return provider.Define(capability.CategoryEngine, name,
		func(_ context.Context, _ *provider.Registry, cfg Config) (any, error) {
			return New(cfg, logger.Named("engine.pubsub")), nil
		},
	)
}

// Init creates the client.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return nil
	}
	client, err := e.connect(ctx, e.cfg)
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "connect", Err: err}
	}
	e.client = client
	e.logger.Info("subscribed to pubsub", zap.String("subscription", e.cfg.Subscription))
	return nil
}

func (e *Engine) current() (*Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, fmt.Errorf("engine not initialized")
	}
	return e.client, nil
}

// Consume receives messages until ctx ends. The client runs callbacks
// concurrently.
func (e *Engine) Consume(ctx context.Context, h engine.Handler) error {
	client, err := e.current()
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "receive", Err: err}
	}
	err = client.Receiver.Receive(ctx, func(msgCtx context.Context, m *pubsub.Message) {
		msgCtx = pubsubtransport.Extract(msgCtx, m.Attributes)
		h(msgCtx, engine.NewJob(m.ID, m.Data, &Delivery{Message: m, ack: m.Ack}))
	})
	if err != nil && ctx.Err() == nil {
		return &engine.TransportError{Engine: name, Op: "receive", Err: err}
	}
	return nil
}

func delivery(job engine.Job) (*Delivery, error) {
	d, ok := job.Metadata.(*Delivery)
	if !ok || d.Message == nil {
		return nil, fmt.Errorf("job %s: metadata is %T, not a pubsub delivery", job.ID, job.Metadata)
	}
	return d, nil
}

// Ack acknowledges the message.
func (e *Engine) Ack(_ context.Context, job engine.Job) error {
	d, err := delivery(job)
	if err != nil {
		return err
	}
	if d.ack != nil {
		d.ack()
	}
	return nil
}

// Response publishes result to the topic named by the reply_to attribute.
func (e *Engine) Response(ctx context.Context, job engine.Job, result any) error {
	d, err := delivery(job)
	if err != nil {
		return err
	}
	request := pubsubtransport.FromMessage(d.Message)
	if request.ReplyTo == "" {
		return nil
	}
	if request.CorrelationID == "" {
		request.CorrelationID = job.ID
	}
	client, err := e.current()
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "respond", Err: err}
	}
	if err := rpc.Respond(ctx, pubsubtransport.RPC{Send: client.Send}, request, result); err != nil {
		return &engine.TransportError{Engine: name, Op: "respond", Err: err}
	}
	return nil
}

// Publish sends body to the configured topic.
func (e *Engine) Publish(ctx context.Context, body []byte, replyTo string) (string, error) {
	if e.cfg.Topic == "" {
		return "", fmt.Errorf("pubsub engine has no topic configured")
	}
	client, err := e.current()
	if err != nil {
		return "", &engine.TransportError{Engine: name, Op: "publish", Err: err}
	}
	msg := pubsubtransport.ToMessage(rpc.Message{ReplyTo: replyTo, ContentType: rpc.ContentTypeJSON, Body: body})
	id, err := client.Send(ctx, e.cfg.Topic, msg)
	if err != nil {
		return "", &engine.TransportError{Engine: name, Op: "publish", Err: err}
	}
	return id, nil
}

// Close releases the client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	var err error
	if e.client.Close != nil {
		err = e.client.Close()
	}
	e.client = nil
	return err
}
