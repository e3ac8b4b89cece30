package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	destination string
	msg         Message
}

type loopTransport struct {
	mu         sync.Mutex
	published  []published
	sent       chan published
	replies    chan Message
	publishErr error
	repliesErr error
}

func newLoopTransport() *loopTransport {
	return &loopTransport{
		sent:    make(chan published, 16),
		replies: make(chan Message, 16),
	}
}

func (t *loopTransport) Publish(_ context.Context, destination string, msg Message) error {
	if t.publishErr != nil {
		return t.publishErr
	}
	t.mu.Lock()
	t.published = append(t.published, published{destination: destination, msg: msg})
	t.mu.Unlock()
	t.sent <- published{destination: destination, msg: msg}
	return nil
}

func (t *loopTransport) Replies(context.Context) (<-chan Message, error) {
	if t.repliesErr != nil {
		return nil, t.repliesErr
	}
	return t.replies, nil
}

func (t *loopTransport) ReplyAddress() string { return "reply.queue" }

func startedClient(t *testing.T, transport Transport, opts ...Option) *Client {
	t.Helper()
	c := NewClient(transport, opts...)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestSendResolvesMatchingReply(t *testing.T) {
	t.Parallel()

	transport := newLoopTransport()
	c := startedClient(t, transport)

	go func() {
		req := <-transport.sent
		transport.replies <- Message{CorrelationID: req.msg.CorrelationID, Body: []byte(`{"ok":true}`)}
	}()

	reply, err := c.Send(context.Background(), "jobs", map[string]any{"kind": "page"})
	require.NoError(t, err)
	var body struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, reply.Decode(&body))
	assert.True(t, body.OK)
	assert.Equal(t, 0, c.Pending())

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.published, 1)
	req := transport.published[0]
	assert.Equal(t, "jobs", req.destination)
	assert.Equal(t, "reply.queue", req.msg.ReplyTo)
	assert.Equal(t, ContentTypeJSON, req.msg.ContentType)
	assert.JSONEq(t, `{"kind":"page"}`, string(req.msg.Body))
	assert.NotEmpty(t, req.msg.CorrelationID)
}

func TestSendMatchesByCorrelationIDNotOrder(t *testing.T) {
	t.Parallel()

	transport := newLoopTransport()
	c := startedClient(t, transport)

	go func() {
		first := <-transport.sent
		second := <-transport.sent
		transport.replies <- Message{CorrelationID: second.msg.CorrelationID, Body: second.msg.Body}
		transport.replies <- Message{CorrelationID: first.msg.CorrelationID, Body: first.msg.Body}
	}()

	var wg sync.WaitGroup
	for _, payload := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := c.Send(context.Background(), "jobs", payload)
			assert.NoError(t, err)
			assert.Equal(t, payload, string(reply.Body))
		}()
	}
	wg.Wait()
}

func TestSendTimesOut(t *testing.T) {
	t.Parallel()

	transport := newLoopTransport()
	c := startedClient(t, transport, WithDefaultTimeout(time.Hour))

	start := time.Now()
	_, err := c.Send(context.Background(), "jobs", "ping", WithTimeout(50*time.Millisecond))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.NotEmpty(t, terr.CorrelationID)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	// Settles within ~20ms of the deadline; the rest is scheduler slack.
	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, 0, c.Pending())

	// A reply arriving after the timeout is dropped without effect.
	transport.replies <- Message{CorrelationID: terr.CorrelationID}
	require.Never(t, func() bool { return c.Pending() != 0 }, 30*time.Millisecond, 5*time.Millisecond)
}

func TestUnknownRepliesAreDropped(t *testing.T) {
	t.Parallel()

	transport := newLoopTransport()
	c := startedClient(t, transport)
	transport.replies <- Message{CorrelationID: "foreign"}

	go func() {
		req := <-transport.sent
		transport.replies <- Message{CorrelationID: req.msg.CorrelationID, Body: []byte("pong")}
	}()
	reply, err := c.Send(context.Background(), "jobs", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply.Body))
}

func TestSendCanceledByContext(t *testing.T) {
	t.Parallel()

	transport := newLoopTransport()
	c := startedClient(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-transport.sent
		cancel()
	}()
	_, err := c.Send(ctx, "jobs", "ping")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestSendPublishFailure(t *testing.T) {
	t.Parallel()

	transport := newLoopTransport()
	transport.publishErr = errors.New("channel closed")
	c := startedClient(t, transport)

	_, err := c.Send(context.Background(), "jobs", "ping")
	require.ErrorContains(t, err, "publish request: channel closed")
	assert.Equal(t, 0, c.Pending())
}

func TestSendRequiresStart(t *testing.T) {
	t.Parallel()

	c := NewClient(newLoopTransport())
	_, err := c.Send(context.Background(), "jobs", "ping")
	require.ErrorIs(t, err, ErrNotStarted)

	failing := newLoopTransport()
	failing.repliesErr = errors.New("queue declare refused")
	c = NewClient(failing)
	require.ErrorContains(t, c.Start(context.Background()), "queue declare refused")
}

func TestSettleIsExactlyOnce(t *testing.T) {
	t.Parallel()

	c := NewClient(newLoopTransport())
	call := &pendingCall{done: make(chan result, 1)}
	c.pending["id-1"] = call

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- c.settle("id-1", result{err: fmt.Errorf("settler %d", i)})
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, call.done, 1)
}
