package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	memoryengine "github.com/JakeFAU/scrape-dispatch/internal/engine/memory"
	"github.com/JakeFAU/scrape-dispatch/internal/logging"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/worker"
)

type kindHandler struct {
	kind     string
	result   any
	failures int32
	panics   bool
	delay    time.Duration

	calls    atomic.Int32
	inits    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	closed   atomic.Bool
}

func (h *kindHandler) Init(context.Context) error {
	h.inits.Add(1)
	return nil
}

func (h *kindHandler) IsScrapeable(job engine.Job) bool {
	return job.Kind() == h.kind
}

func (h *kindHandler) Handle(context.Context, engine.Job) (any, error) {
	n := h.calls.Add(1)
	cur := h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	for {
		old := h.peak.Load()
		if cur <= old || h.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.panics {
		panic("handler exploded")
	}
	if n <= h.failures {
		return nil, errors.New("transient")
	}
	return h.result, nil
}

func (h *kindHandler) Close(context.Context) error {
	h.closed.Store(true)
	return nil
}

// run publishes bodies, starts d and returns once every job is acked.
func run(t *testing.T, d *Dispatcher, eng *memoryengine.Engine, bodies ...string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	for _, body := range bodies {
		_, err := eng.Publish(ctx, []byte(body), "replies")
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(eng.Acked()) == len(bodies) }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatchRoutesToFirstMatchingHandler(t *testing.T) {
	t.Parallel()

	a := &kindHandler{kind: "a", result: "from-a"}
	b := &kindHandler{kind: "b", result: map[string]any{"ok": true}}
	eng := memoryengine.New(8)
	d := New(eng, []capability.Handler{a, b}, logging.Nop{}, Options{})

	run(t, d, eng, `{"type":"b"}`)

	assert.Equal(t, int32(0), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, []string{"1"}, eng.Acked())
	responses := eng.Responses()
	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"ok":true}`, string(responses[0].Message.Body))
	assert.Equal(t, "1", responses[0].Message.CorrelationID)
}

func TestDispatchFirstRegisteredWins(t *testing.T) {
	t.Parallel()

	first := &kindHandler{kind: "page", result: "first"}
	second := &kindHandler{kind: "page", result: "second"}
	eng := memoryengine.New(8)
	d := New(eng, []capability.Handler{first, second}, logging.Nop{}, Options{})

	run(t, d, eng, `{"type":"page"}`, `{"kind":"page"}`)

	assert.Equal(t, int32(2), first.calls.Load())
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestDispatchFailuresAreAckedWithoutResponse(t *testing.T) {
	t.Parallel()

	panicking := &kindHandler{kind: "boom", panics: true}
	failing := &kindHandler{kind: "fail", failures: 100}
	empty := &kindHandler{kind: "empty", result: map[string]any{}}
	ok := &kindHandler{kind: "ok", result: "fine"}
	eng := memoryengine.New(8)
	core, logs := observer.New(zapcore.DebugLevel)
	d := New(eng, []capability.Handler{panicking, failing, empty, ok}, logging.NewZap(zap.New(core)), Options{})

	run(t, d, eng,
		`{"type":"boom"}`,
		`{"type":"fail"}`,
		`{"type":"nobody"}`,
		`not json at all`,
		`{"type":"empty"}`,
		`{"type":"ok"}`,
	)

	acked := eng.Acked()
	assert.ElementsMatch(t, []string{"1", "2", "3", "4", "5", "6"}, acked)
	responses := eng.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, "6", responses[0].JobID)
	assert.Equal(t, "fine", string(responses[0].Message.Body))

	// One error line per failed job: panic, failure, no handler, undecodable.
	failed := logs.FilterMessage("job failed").FilterLevelExact(zapcore.ErrorLevel).All()
	var failedIDs []string
	for _, entry := range failed {
		failedIDs = append(failedIDs, entry.ContextMap()["job_id"].(string))
	}
	assert.ElementsMatch(t, []string{"1", "2", "3", "4"}, failedIDs)
	assert.Equal(t, 6, logs.FilterMessage("job received").FilterLevelExact(zapcore.InfoLevel).Len())
}

func TestDispatchRetriesBeforeAck(t *testing.T) {
	t.Parallel()

	flaky := &kindHandler{kind: "flaky", failures: 2, result: "done"}
	eng := memoryengine.New(8)
	d := New(eng, []capability.Handler{flaky}, logging.Nop{}, Options{
		Retry: worker.NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond),
	})

	run(t, d, eng, `{"type":"flaky"}`)

	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, []string{"1"}, eng.Acked())
	require.Len(t, eng.Responses(), 1)
}

func TestDispatchPanicsAreNotRetried(t *testing.T) {
	t.Parallel()

	h := &kindHandler{kind: "boom", panics: true}
	eng := memoryengine.New(8)
	d := New(eng, []capability.Handler{h}, logging.Nop{}, Options{
		Retry: worker.NewExponentialRetryPolicy(5, time.Millisecond, time.Millisecond),
	})

	run(t, d, eng, `{"type":"boom"}`)
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestDispatchConcurrencyLimit(t *testing.T) {
	t.Parallel()

	slow := &kindHandler{kind: "slow", delay: 5 * time.Millisecond}
	eng := memoryengine.New(16)
	d := New(eng, []capability.Handler{slow}, logging.Nop{}, Options{Concurrency: 2})

	bodies := make([]string, 8)
	for i := range bodies {
		bodies[i] = `{"type":"slow"}`
	}
	run(t, d, eng, bodies...)

	assert.Equal(t, int32(8), slow.calls.Load())
	assert.LessOrEqual(t, slow.peak.Load(), int32(2))
}

func TestProcessWithMockEngine(t *testing.T) {
	t.Parallel()

	eng := &engine.MockEngine{}
	h := &kindHandler{kind: "a", result: []int{1}}
	d := New(eng, []capability.Handler{h}, logging.Nop{}, Options{Logger: zap.NewNop()})
	job := engine.NewJob("42", []byte(`{"type":"a"}`), nil)

	eng.On("Ack", mock.Anything, job).Return(errors.New("channel closed")).Once()
	eng.On("Response", mock.Anything, job, []int{1}).Return(nil).Once()

	d.Process(context.Background(), job)
	eng.AssertExpectations(t)
}

func TestProcessRecordsSpans(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	eng := memoryengine.New(1)
	h := &kindHandler{kind: "a", result: "ok"}
	d := New(eng, []capability.Handler{h}, logging.Nop{}, Options{Tracer: tp.Tracer("test")})

	d.Process(context.Background(), engine.NewJob("1", []byte(`{"type":"a"}`), nil))
	d.Process(context.Background(), engine.NewJob("2", []byte(`{"type":"zzz"}`), nil))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "dispatch.job", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String("job.status", "unhandled"))
}

func TestConfigureFromRegistry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := &kindHandler{kind: "a"}
	b := &kindHandler{kind: "b"}
	eng := memoryengine.New(4)

	r := provider.NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(ctx, logging.Providers(zap.NewNop())...))
	require.NoError(t, r.Register(ctx,
		provider.NewSimple(capability.CategoryEngine, "memory", eng),
		provider.NewSimple(capability.CategoryHandler, "a", a),
		provider.NewSimple(capability.CategoryHandler, "b", b),
	))

	d, err := Configure(ctx, r, Config{Engine: "memory", Handlers: []any{"b", "a"}}, zap.NewNop())
	require.NoError(t, err)
	assert.Same(t, eng, d.Engine())
	handlers := d.Handlers()
	require.Len(t, handlers, 2)
	assert.Same(t, b, handlers[0])
	assert.Equal(t, int32(1), a.inits.Load())
	assert.Equal(t, int32(1), b.inits.Load())

	require.NoError(t, d.Close(ctx))
	require.NoError(t, d.Close(ctx))
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
	_, err = eng.Publish(ctx, []byte(`{}`), "")
	require.ErrorIs(t, err, memoryengine.ErrClosed)
}

func TestConfigureErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := provider.NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(ctx, logging.Providers(zap.NewNop())...))
	require.NoError(t, r.Register(ctx, provider.NewSimple(capability.CategoryEngine, "null", engine.Null{})))

	_, err := Configure(ctx, r, Config{Handlers: []any{"missing"}}, zap.NewNop())
	require.ErrorIs(t, err, provider.ErrProviderNotFound)
	assert.Contains(t, err.Error(), "HANDLER[0]")

	_, err = Configure(ctx, r, Config{Concurrency: -1}, zap.NewNop())
	require.Error(t, err)

	_, err = Configure(ctx, r, Config{Engine: "rmq"}, zap.NewNop())
	require.ErrorIs(t, err, provider.ErrProviderNotFound)
}

func TestHandlerError(t *testing.T) {
	t.Parallel()

	err := error(&HandlerError{JobID: "7", Err: ErrNoHandler})
	require.ErrorIs(t, err, ErrNoHandler)
	assert.Equal(t, "job 7: no handler for job", err.Error())

	err = &HandlerError{JobID: "7", Handler: "page.Handler", Attempts: 2, Err: errors.New("x")}
	assert.Equal(t, "job 7: handler page.Handler after 2 attempt(s): x", err.Error())
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	var nilMap map[string]any
	var nilPtr *struct{ A int }
	cases := []struct {
		name  string
		in    any
		empty bool
	}{
		{"nil", nil, true},
		{"empty string", "", true},
		{"string", "x", false},
		{"empty map", map[string]any{}, true},
		{"nil map", nilMap, true},
		{"map", map[string]any{"a": 1}, false},
		{"empty slice", []byte{}, true},
		{"slice", []int{0}, false},
		{"nil pointer", nilPtr, true},
		{"pointer to struct", &struct{ A int }{}, false},
		{"struct", struct{ A int }{}, false},
		{"fieldless struct", struct{}{}, true},
		{"number", 42, true},
		{"bool", true, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.empty, IsEmpty(tc.in), tc.name)
	}
}
