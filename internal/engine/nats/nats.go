// Package natsengine consumes jobs from a NATS queue group.
package natsengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/id"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
	natstransport "github.com/JakeFAU/scrape-dispatch/internal/transport/nats"
)

const name = "nats"

// Config configures the engine.
type Config struct {
	Connection  string        `mapstructure:"connection"`
	Subject     string        `mapstructure:"subject"`
	QueueGroup  string        `mapstructure:"queue_group"`
	Buffer      int           `mapstructure:"buffer"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Connection:  nats.DefaultURL,
		QueueGroup:  "scrape-dispatch",
		Buffer:      256,
		DialTimeout: 10 * time.Second,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if c.Buffer <= 0 {
		return fmt.Errorf("buffer must be > 0")
	}
	return nil
}

// Dialer opens a NATS connection. The returned func closes it.
type Dialer func(cfg Config) (natstransport.Conn, func(), error)

func dial(cfg Config) (natstransport.Conn, func(), error) {
	nc, err := natstransport.Connect(cfg.Connection, cfg.QueueGroup, cfg.DialTimeout)
	if err != nil {
		return nil, nil, err
	}
	return nc, nc.Close, nil
}

// Engine delivers core NATS messages. Core NATS has no acknowledgements, so
// Ack is a no-op.
type Engine struct {
	cfg    Config
	dial   Dialer
	ids    id.Generator
	logger *zap.Logger

	mu    sync.Mutex
	conn  natstransport.Conn
	close func()
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDialer replaces the connection dialer.
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

// NewProvider returns the ENGINE/nats provider.
func NewProvider(logger *zap.Logger) provider.Provider {
	return provider.Define(capability.CategoryEngine, name,
		func(_ context.Context, _ *provider.Registry, cfg Config) (any, error) {
			return New(cfg, logger.Named("engine.nats")), nil
		},
		provider.WithDefaults(DefaultConfig),
	)
}

// Init connects to the server.
func (e *Engine) Init(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return nil
	}
	conn, closeFn, err := e.dial(e.cfg)
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "connect", Err: err}
	}
	e.conn, e.close = conn, closeFn
	e.logger.Info("connected to nats", zap.String("subject", e.cfg.Subject), zap.String("queue_group", e.cfg.QueueGroup))
	return nil
}

func (e *Engine) connection() (natstransport.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil, fmt.Errorf("engine not initialized")
	}
	return e.conn, nil
}

// Consume delivers messages until ctx ends.
func (e *Engine) Consume(ctx context.Context, h engine.Handler) error {
	conn, err := e.connection()
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "subscribe", Err: err}
	}
	msgs := make(chan *nats.Msg, e.cfg.Buffer)
	sub, err := conn.ChanQueueSubscribe(e.cfg.Subject, e.cfg.QueueGroup, msgs)
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "subscribe", Err: err}
	}
	defer func() {
		if sub != nil {
			if err := sub.Unsubscribe(); err != nil {
				e.logger.Warn("unsubscribe failed", zap.Error(err))
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgs:
			jobID := m.Header.Get(natstransport.HeaderCorrelationID)
			if jobID == "" {
				if jobID, err = e.ids.NewID(); err != nil {
					e.logger.Error("generate job id", zap.Error(err))
				}
			}
			h(ctx, engine.NewJob(jobID, m.Data, m))
		}
	}
}

// Ack is a no-op for core NATS.
func (e *Engine) Ack(context.Context, engine.Job) error { return nil }

// Response publishes result to the message's reply subject.
func (e *Engine) Response(ctx context.Context, job engine.Job, result any) error {
	m, ok := job.Metadata.(*nats.Msg)
	if !ok {
		return fmt.Errorf("job %s: metadata is %T, not a nats message", job.ID, job.Metadata)
	}
	if m.Reply == "" {
		return nil
	}
	conn, err := e.connection()
	if err != nil {
		return &engine.TransportError{Engine: name, Op: "respond", Err: err}
	}
	request := natstransport.FromMsg(m)
	if request.CorrelationID == "" {
		request.CorrelationID = job.ID
	}
	if err := rpc.Respond(ctx, natstransport.NewPublisher(conn), request, result); err != nil {
		return &engine.TransportError{Engine: name, Op: "respond", Err: err}
	}
	return nil
}

// Publish sends body to the engine's subject.
func (e *Engine) Publish(ctx context.Context, body []byte, replyTo string) (string, error) {
	conn, err := e.connection()
	if err != nil {
		return "", &engine.TransportError{Engine: name, Op: "publish", Err: err}
	}
	msgID, err := e.ids.NewID()
	if err != nil {
		return "", err
	}
	msg := rpc.Message{CorrelationID: msgID, ReplyTo: replyTo, ContentType: rpc.ContentTypeJSON, Body: body}
	if err := natstransport.NewPublisher(conn).Publish(ctx, e.cfg.Subject, msg); err != nil {
		return "", &engine.TransportError{Engine: name, Op: "publish", Err: err}
	}
	return msgID, nil
}

// Close drops the connection.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.close != nil {
		e.close()
	}
	e.conn, e.close = nil, nil
	return nil
}
