// Package natstransport adapts NATS core request/reply to the rpc contracts.
package natstransport

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/JakeFAU/scrape-dispatch/internal/rpc"
)

// Header names carried on NATS messages.
const (
	HeaderCorrelationID = "Correlation-Id"
	HeaderContentType   = "Content-Type"
)

// Conn is the subset of *nats.Conn used by the transport and engine.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	ChanSubscribe(subj string, ch chan *nats.Msg) (*nats.Subscription, error)
	ChanQueueSubscribe(subj, queue string, ch chan *nats.Msg) (*nats.Subscription, error)
	NewRespInbox() string
}

// Connect dials a NATS server.
func Connect(url, name string, timeout time.Duration) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{nats.Timeout(timeout)}
	if name != "" {
		opts = append(opts, nats.Name(name))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Publisher publishes rpc messages to subjects.
type Publisher struct {
	conn Conn
}

// NewPublisher wraps conn.
func NewPublisher(conn Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Publish implements rpc.Publisher.
func (p *Publisher) Publish(_ context.Context, destination string, msg rpc.Message) error {
	if err := p.conn.PublishMsg(ToMsg(destination, msg)); err != nil {
		return fmt.Errorf("publish to %s: %w", destination, err)
	}
	return nil
}

// ToMsg converts an rpc message to a NATS message on subject.
func ToMsg(subject string, msg rpc.Message) *nats.Msg {
	header := nats.Header{}
	for k, v := range msg.Headers {
		header.Set(k, v)
	}
	if msg.CorrelationID != "" {
		header.Set(HeaderCorrelationID, msg.CorrelationID)
	}
	if msg.ContentType != "" {
		header.Set(HeaderContentType, msg.ContentType)
	}
	return &nats.Msg{
		Subject: subject,
		Reply:   msg.ReplyTo,
		Header:  header,
		Data:    msg.Body,
	}
}

// FromMsg converts a NATS message to an rpc message.
func FromMsg(m *nats.Msg) rpc.Message {
	out := rpc.Message{ReplyTo: m.Reply, Body: m.Data}
	if m.Header != nil {
		out.CorrelationID = m.Header.Get(HeaderCorrelationID)
		out.ContentType = m.Header.Get(HeaderContentType)
		out.Headers = make(map[string]string, len(m.Header))
		for k := range m.Header {
			out.Headers[k] = m.Header.Get(k)
		}
	}
	return out
}

// Transport is an rpc.Transport listening on a private inbox.
type Transport struct {
	*Publisher
	conn  Conn
	inbox string
}

// NewTransport allocates a reply inbox on conn.
func NewTransport(conn Conn) *Transport {
	return &Transport{Publisher: NewPublisher(conn), conn: conn, inbox: conn.NewRespInbox()}
}

// ReplyAddress implements rpc.Transport.
func (t *Transport) ReplyAddress() string {
	return t.inbox
}

// Replies implements rpc.Transport.
func (t *Transport) Replies(ctx context.Context) (<-chan rpc.Message, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := t.conn.ChanSubscribe(t.inbox, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe reply inbox: %w", err)
	}
	out := make(chan rpc.Message)
	go func() {
		defer close(out)
		defer func() {
			if sub != nil {
				_ = sub.Unsubscribe()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				select {
				case out <- FromMsg(m):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
