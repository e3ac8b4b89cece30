// Package pubsubtransport publishes to Google Cloud Pub/Sub topics with trace
// context carried in message attributes.
package pubsubtransport

import (
	"context"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
)

// Attribute names used for request/reply metadata.
const (
	AttrCorrelationID = "correlation_id"
	AttrReplyTo       = "reply_to"
	AttrContentType   = "content_type"
)

// SendFunc publishes msg to topic and returns the server-assigned id.
type SendFunc func(ctx context.Context, topic string, msg *pubsub.Message) (string, error)

// Publisher keeps one pubsub.Publisher per topic.
type Publisher struct {
	client *pubsub.Client

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewPublisher wraps client.
func NewPublisher(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, publishers: map[string]*pubsub.Publisher{}}
}

// Send publishes msg and waits for the server ack.
func (p *Publisher) Send(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	p.mu.Lock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.publishers[topic] = pub
	}
	p.mu.Unlock()

	if msg.Attributes == nil {
		msg.Attributes = make(map[string]string)
	}
	Inject(ctx, msg.Attributes)
	id, err := pub.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes and stops every topic publisher.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, topic)
	}
}

// RPC adapts a SendFunc to rpc.Publisher.
type RPC struct {
	Send SendFunc
}

// Publish implements rpc.Publisher.
func (r RPC) Publish(ctx context.Context, destination string, msg rpc.Message) error {
	if _, err := r.Send(ctx, destination, ToMessage(msg)); err != nil {
		return fmt.Errorf("publish to %s: %w", destination, err)
	}
	return nil
}

// ToMessage converts an rpc message to a Pub/Sub message.
func ToMessage(msg rpc.Message) *pubsub.Message {
	attrs := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		attrs[k] = v
	}
	if msg.CorrelationID != "" {
		attrs[AttrCorrelationID] = msg.CorrelationID
	}
	if msg.ReplyTo != "" {
		attrs[AttrReplyTo] = msg.ReplyTo
	}
	if msg.ContentType != "" {
		attrs[AttrContentType] = msg.ContentType
	}
	return &pubsub.Message{Data: msg.Body, Attributes: attrs}
}

// FromMessage converts a Pub/Sub message to an rpc message.
func FromMessage(m *pubsub.Message) rpc.Message {
	out := rpc.Message{
		CorrelationID: m.Attributes[AttrCorrelationID],
		ReplyTo:       m.Attributes[AttrReplyTo],
		ContentType:   m.Attributes[AttrContentType],
		Body:          m.Data,
	}
	if len(m.Attributes) > 0 {
		out.Headers = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			out.Headers[k] = v
		}
	}
	return out
}

// Inject writes the active trace context into attrs.
func Inject(ctx context.Context, attrs map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: attrs})
}

// Extract returns ctx with the trace context found in attrs.
func Extract(ctx context.Context, attrs map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, &carrier{attrs: attrs})
}

// carrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
