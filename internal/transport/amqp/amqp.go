// Package amqptransport adapts RabbitMQ channels to the rpc transport and
// publisher contracts.
package amqptransport

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
)

// DefaultURL is used when a config names no broker.
const DefaultURL = "amqp://localhost"

// ErrDeliveriesClosed is returned when the broker closes a consumer.
var ErrDeliveriesClosed = errors.New("amqp deliveries channel closed")

// Channel is the subset of *amqp.Channel used here.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ConsumeWithContext(
		ctx context.Context,
		queue, consumer string,
		autoAck, exclusive, noLocal, noWait bool,
		args amqp.Table,
	) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Session owns a broker connection and one channel on it.
type Session struct {
	conn    *amqp.Connection
	Channel Channel
}

// Dial opens a connection and a channel.
func Dial(url, name string, timeout time.Duration) (*Session, error) {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	props := amqp.Table{"product": "scrape-dispatch"}
	if name != "" {
		props["connection_name"] = name
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Locale:     "en_US",
		Properties: props,
		Dial:       amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &Session{conn: conn, Channel: ch}, nil
}

// Close closes the channel then the connection.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Channel != nil {
		if err := s.Channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Publisher publishes rpc messages to queues through the default exchange.
type Publisher struct {
	ch Channel
}

// NewPublisher wraps ch.
func NewPublisher(ch Channel) *Publisher {
	return &Publisher{ch: ch}
}

// Publish implements rpc.Publisher.
func (p *Publisher) Publish(ctx context.Context, destination string, msg rpc.Message) error {
	if err := p.ch.PublishWithContext(ctx, "", destination, false, false, ToPublishing(msg)); err != nil {
		return fmt.Errorf("publish to %s: %w", destination, err)
	}
	return nil
}

// ToPublishing converts an rpc message to AMQP properties and body.
func ToPublishing(msg rpc.Message) amqp.Publishing {
	var headers amqp.Table
	if len(msg.Headers) > 0 {
		headers = make(amqp.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			headers[k] = v
		}
	}
	return amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Timestamp:     time.Now().UTC(),
		Body:          msg.Body,
	}
}

// FromDelivery converts an AMQP delivery to an rpc message.
func FromDelivery(d amqp.Delivery) rpc.Message {
	var headers map[string]string
	if len(d.Headers) > 0 {
		headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	return rpc.Message{
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		ContentType:   d.ContentType,
		Headers:       headers,
		Body:          d.Body,
	}
}

// Transport is an rpc.Transport backed by a reply queue on ch.
type Transport struct {
	*Publisher
	ch         Channel
	replyQueue string
}

// NewTransport declares the reply queue. An empty name asks the broker for
// an exclusive, auto-deleted queue.
func NewTransport(ch Channel, replyQueue string) (*Transport, error) {
	var (
		q   amqp.Queue
		err error
	)
	if replyQueue == "" {
		q, err = ch.QueueDeclare("", false, true, true, false, nil)
	} else {
		q, err = ch.QueueDeclare(replyQueue, false, false, false, false, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	return &Transport{Publisher: NewPublisher(ch), ch: ch, replyQueue: q.Name}, nil
}

// ReplyAddress implements rpc.Transport.
func (t *Transport) ReplyAddress() string {
	return t.replyQueue
}

// Replies implements rpc.Transport. Replies are auto-acknowledged.
func (t *Transport) Replies(ctx context.Context) (<-chan rpc.Message, error) {
	deliveries, err := t.ch.ConsumeWithContext(ctx, t.replyQueue, "", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume reply queue: %w", err)
	}
	out := make(chan rpc.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- FromDelivery(d):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
