// Package rpc correlates outgoing requests with asynchronous replies over a
// broker transport.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Content types attached to encoded bodies.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeText   = "text/plain"
	ContentTypeBinary = "application/octet-stream"
)

// Message is the transport-neutral form of a request or reply.
type Message struct {
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Headers       map[string]string
	Body          []byte
}

// Decode unmarshals a JSON body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("decode reply body: %w", err)
	}
	return nil
}

// Publisher sends a message to a destination (queue, subject or topic).
type Publisher interface {
	Publish(ctx context.Context, destination string, msg Message) error
}

// Transport is the raw send/receive channel a Client runs over.
type Transport interface {
	Publisher
	// Replies starts the reply consumer. The channel closes when ctx ends or
	// the underlying subscription goes away.
	Replies(ctx context.Context) (<-chan Message, error)
	// ReplyAddress is attached to outgoing requests as their reply-to.
	ReplyAddress() string
}

// Encode renders a payload for the wire: byte slices and strings are sent
// as-is, everything else as JSON.
func Encode(payload any) ([]byte, string, error) {
	switch v := payload.(type) {
	case []byte:
		return v, ContentTypeBinary, nil
	case string:
		return []byte(v), ContentTypeText, nil
	case json.RawMessage:
		return v, ContentTypeJSON, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("marshal payload: %w", err)
		}
		return data, ContentTypeJSON, nil
	}
}

// Respond sends result to the request's reply address with the request's
// correlation id. Requests without a reply address are ignored.
func Respond(ctx context.Context, p Publisher, request Message, result any) error {
	if request.ReplyTo == "" {
		return nil
	}
	body, contentType, err := Encode(result)
	if err != nil {
		return err
	}
	reply := Message{
		CorrelationID: request.CorrelationID,
		ContentType:   contentType,
		Body:          body,
	}
	if err := p.Publish(ctx, request.ReplyTo, reply); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}
	return nil
}
