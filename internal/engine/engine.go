// Package engine defines the job source contract used by the dispatcher.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTransport marks failures of the underlying broker connection.
var ErrTransport = errors.New("engine transport error")

// TransportError reports a broker failure for one engine operation.
type TransportError struct {
	Engine string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// Job is one delivered unit of work.
type Job struct {
	// ID is the delivery tag or message id assigned by the broker.
	ID string
	// Payload is the decoded JSON body, or the body as a string when it is
	// not JSON.
	Payload any
	// Body is the raw message body.
	Body []byte
	// Metadata is the broker handle, passed back unchanged to Ack and Response.
	Metadata any
}

// NewJob decodes body into a Job.
func NewJob(id string, body []byte, metadata any) Job {
	job := Job{ID: id, Body: body, Metadata: metadata}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		job.Payload = string(body)
	} else {
		job.Payload = payload
	}
	return job
}

// Field returns a top-level payload field.
func (j Job) Field(key string) (any, bool) {
	m, ok := j.Payload.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// String returns a top-level string field, or "".
func (j Job) String(key string) string {
	v, _ := j.Field(key)
	s, _ := v.(string)
	return s
}

// Kind returns the job discriminant from "type", falling back to "kind".
func (j Job) Kind() string {
	if k := j.String("type"); k != "" {
		return k
	}
	return j.String("kind")
}

// Handler processes one job. Engines invoke it concurrently.
type Handler func(ctx context.Context, job Job)

// Engine delivers jobs from a broker and sends acknowledgements and replies.
type Engine interface {
	// Init prepares the engine. Calling it more than once is harmless.
	Init(ctx context.Context) error
	// Consume invokes h for every delivery until ctx ends or the broker
	// closes the stream. It returns nil when ctx ends.
	Consume(ctx context.Context, h Handler) error
	// Ack acknowledges job. Engines never nack or redeliver.
	Ack(ctx context.Context, job Job) error
	// Response replies to job's reply address, if it has one.
	Response(ctx context.Context, job Job, result any) error
	Close() error
}

// Publisher is implemented by engines that can enqueue jobs themselves.
type Publisher interface {
	// Publish enqueues body and returns the broker's id for it. A non-empty
	// replyTo asks for a response.
	Publish(ctx context.Context, body []byte, replyTo string) (string, error)
}

// Null is an engine that never delivers jobs.
type Null struct{}

// Init implements Engine.
func (Null) Init(context.Context) error { return nil }

// Consume blocks until ctx is done.
func (Null) Consume(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}

// Ack implements Engine.
func (Null) Ack(context.Context, Job) error { return nil }

// Response implements Engine.
func (Null) Response(context.Context, Job, any) error { return nil }

// Close implements Engine.
func (Null) Close() error { return nil }
