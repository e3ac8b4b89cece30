package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/id"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
)

// DefaultTimeout applies when neither the client nor the call sets one.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrTimeout marks calls that saw no reply in time.
	ErrTimeout = errors.New("rpc timed out")
	// ErrNotStarted is returned by Send before Start.
	ErrNotStarted = errors.New("rpc client not started")
)

// TimeoutError reports the correlation id of a call that expired.
type TimeoutError struct {
	CorrelationID string
	After         time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc timed out after %s (correlation id %s)", e.After, e.CorrelationID)
}

// Unwrap lets callers match ErrTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

type result struct {
	msg Message
	err error
}

type pendingCall struct {
	done  chan result
	timer *time.Timer
}

// Client sends requests and matches replies by correlation id.
type Client struct {
	transport Transport
	ids       id.Generator
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall

	startOnce sync.Once
	startErr  error
	started   chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithDefaultTimeout sets the timeout used by calls that do not override it.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithIDGenerator replaces the UUIDv7 correlation id source.
func WithIDGenerator(g id.Generator) Option {
	return func(c *Client) { c.ids = g }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a Client over transport. Call Start before Send.
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		ids:       id.NewUUID(),
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		pending:   make(map[string]*pendingCall),
		started:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("rpc")
	return c
}

// Start opens the reply consumer. It is safe to call more than once.
func (c *Client) Start(ctx context.Context) error {
	c.startOnce.Do(func() {
		replies, err := c.transport.Replies(ctx)
		if err != nil {
			c.startErr = fmt.Errorf("start reply consumer: %w", err)
			return
		}
		close(c.started)
		go c.readReplies(replies)
	})
	return c.startErr
}

// SendOption tweaks a single call.
type SendOption func(*sendOptions)

type sendOptions struct {
	timeout time.Duration
	headers map[string]string
}

// WithTimeout overrides the client default for one call.
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = d }
}

// WithHeader attaches a header to the outgoing request.
func WithHeader(key, value string) SendOption {
	return func(o *sendOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// Send publishes payload to destination and blocks until the matching reply
// arrives, the timeout fires, or ctx ends.
func (c *Client) Send(ctx context.Context, destination string, payload any, opts ...SendOption) (Message, error) {
	select {
	case <-c.started:
	default:
		return Message{}, ErrNotStarted
	}
	o := sendOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = c.timeout
	}

	body, contentType, err := Encode(payload)
	if err != nil {
		return Message{}, err
	}
	correlationID, err := c.ids.NewID()
	if err != nil {
		return Message{}, fmt.Errorf("correlation id: %w", err)
	}
	headers := make(map[string]string, len(o.headers))
	for k, v := range o.headers {
		headers[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	call := &pendingCall{done: make(chan result, 1)}
	c.mu.Lock()
	c.pending[correlationID] = call
	call.timer = time.AfterFunc(o.timeout, func() {
		c.settle(correlationID, result{err: &TimeoutError{CorrelationID: correlationID, After: o.timeout}})
	})
	c.mu.Unlock()

	msg := Message{
		CorrelationID: correlationID,
		ReplyTo:       c.transport.ReplyAddress(),
		ContentType:   contentType,
		Headers:       headers,
		Body:          body,
	}
	if err := c.transport.Publish(ctx, destination, msg); err != nil {
		c.settle(correlationID, result{err: fmt.Errorf("publish request: %w", err)})
	}

	select {
	case res := <-call.done:
		c.observe(res.err)
		return res.msg, res.err
	case <-ctx.Done():
		if c.settle(correlationID, result{err: ctx.Err()}) {
			metrics.ObserveRPC("canceled")
			return Message{}, fmt.Errorf("rpc %s canceled: %w", correlationID, ctx.Err())
		}
		res := <-call.done
		c.observe(res.err)
		return res.msg, res.err
	}
}

// Pending reports the number of calls awaiting settlement.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// settle resolves the call exactly once; it reports whether this caller won.
func (c *Client) settle(correlationID string, res result) bool {
	c.mu.Lock()
	call, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.done <- res
	return true
}

func (c *Client) readReplies(replies <-chan Message) {
	for msg := range replies {
		if !c.settle(msg.CorrelationID, result{msg: msg}) {
			c.logger.Debug("dropping reply with unknown correlation id",
				zap.String("correlation_id", msg.CorrelationID))
		}
	}
	c.logger.Debug("reply consumer stopped")
}

func (c *Client) observe(err error) {
	switch {
	case err == nil:
		metrics.ObserveRPC("reply")
	case errors.Is(err, ErrTimeout):
		metrics.ObserveRPC("timeout")
	default:
		metrics.ObserveRPC("error")
	}
}
