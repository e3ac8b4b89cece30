// Package dispatcher routes jobs delivered by an engine to the first handler
// that claims them, then acknowledges and answers each job.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/worker"
)

const tracerName = "github.com/JakeFAU/scrape-dispatch/internal/dispatcher"

// ErrNoHandler is reported for jobs no handler claims.
var ErrNoHandler = errors.New("no handler for job")

// HandlerError wraps a failure while selecting or running a handler.
type HandlerError struct {
	JobID    string
	Handler  string
	Attempts int
	Err      error
}

func (e *HandlerError) Error() string {
	if e.Handler == "" {
		return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("job %s: handler %s after %d attempt(s): %v", e.JobID, e.Handler, e.Attempts, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Config selects the dispatcher's collaborators and execution knobs.
type Config struct {
	Logger         any           `mapstructure:"logger"`
	Engine         any           `mapstructure:"engine"`
	Handlers       []any         `mapstructure:"handlers"`
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// Validate checks the knobs. Provider configs are validated when built.
func (c Config) Validate() error {
	if c.Concurrency < 0 {
		return errors.New("concurrency must be >= 0")
	}
	if c.MaxAttempts < 0 {
		return errors.New("max_attempts must be >= 0")
	}
	if c.BackoffInitial < 0 || c.BackoffMax < 0 {
		return errors.New("backoff durations must be >= 0")
	}
	return nil
}

// Options tunes a Dispatcher built with New.
type Options struct {
	Concurrency int
	Retry       worker.RetryPolicy
	Logger      *zap.Logger
	// Tracer defaults to the global tracer provider's.
	Tracer trace.Tracer
}

// Dispatcher consumes an engine and fans jobs out to handlers.
type Dispatcher struct {
	engine   engine.Engine
	handlers []capability.Handler
	jobLog   capability.Logger
	pool     *worker.Pool
	retry    worker.RetryPolicy
	logger   *zap.Logger
	tracer   trace.Tracer

	closeOnce sync.Once
	closeErr  error
}

// New assembles a Dispatcher from ready collaborators. Init is not called.
func New(eng engine.Engine, handlers []capability.Handler, jobLog capability.Logger, opts Options) *Dispatcher {
	if opts.Retry == nil {
		opts.Retry = worker.NewExponentialRetryPolicy(1, 0, 0)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		engine:   eng,
		handlers: handlers,
		jobLog:   jobLog,
		pool:     worker.NewPool(opts.Concurrency),
		retry:    opts.Retry,
		logger:   opts.Logger.Named("dispatcher"),
		tracer:   opts.Tracer,
	}
}

// Configure resolves the logger, engine and handlers from r and initializes
// each of them once.
func Configure(ctx context.Context, r *provider.Registry, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatcher config: %w", err)
	}
	jobLog, err := provider.MakeAs[capability.Logger](ctx, r, capability.CategoryLogger, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("resolve logger: %w", err)
	}
	eng, err := provider.MakeAs[engine.Engine](ctx, r, capability.CategoryEngine, cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("resolve engine: %w", err)
	}
	handlers, err := provider.MakeAll[capability.Handler](ctx, r, capability.CategoryHandler, cfg.Handlers)
	if err != nil {
		return nil, fmt.Errorf("resolve handlers: %w", err)
	}

	d := New(eng, handlers, jobLog, Options{
		Concurrency: cfg.Concurrency,
		Retry:       worker.NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		Logger:      logger,
	})
	if err := eng.Init(ctx); err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	for i, h := range handlers {
		if err := h.Init(ctx); err != nil {
			return nil, fmt.Errorf("init handler %d (%s): %w", i, handlerName(h), err)
		}
	}
	d.logger.Info("dispatcher configured",
		zap.String("engine", fmt.Sprintf("%T", eng)),
		zap.Int("handlers", len(handlers)),
		zap.Int("concurrency", cfg.Concurrency),
	)
	return d, nil
}

// Engine returns the engine jobs are consumed from.
func (d *Dispatcher) Engine() engine.Engine {
	return d.engine
}

// Handlers returns the handlers in selection order.
func (d *Dispatcher) Handlers() []capability.Handler {
	return append([]capability.Handler(nil), d.handlers...)
}

// Start consumes jobs until ctx ends or the engine stops, then waits for
// every in-flight job to finish.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	err := d.engine.Consume(ctx, func(jobCtx context.Context, job engine.Job) {
		if err := d.pool.Submit(jobCtx, func(c context.Context) { d.Process(c, job) }); err != nil {
			// Shutting down while waiting for a slot still settles the job.
			d.settle(jobCtx, job, nil, &HandlerError{JobID: job.ID, Err: err})
		}
	})
	d.pool.Wait()
	d.logger.Info("dispatcher stopped", zap.Error(err))
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return nil
}

// Process runs one job to completion: select, handle, ack, respond.
func (d *Dispatcher) Process(ctx context.Context, job engine.Job) {
	start := time.Now()
	d.jobLog.Log("job received", "job_id", job.ID, "payload", job.Payload)
	ctx, span := d.tracer.Start(ctx, "dispatch.job",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("job.id", job.ID), attribute.String("job.kind", job.Kind())),
	)
	defer span.End()

	result, name, err := d.handle(ctx, job)
	status := "ok"
	switch {
	case errors.Is(err, ErrNoHandler):
		status = "unhandled"
	case err != nil:
		status = "error"
	}
	span.SetAttributes(attribute.String("job.handler", name), attribute.String("job.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	metrics.ObserveJob(name, status, time.Since(start))
	d.settle(ctx, job, result, err)
}

func (d *Dispatcher) settle(ctx context.Context, job engine.Job, result any, err error) {
	logger := d.logger.With(zap.String("job_id", job.ID))
	if err != nil {
		d.jobLog.Error("job failed", "job_id", job.ID, "error", err.Error())
		logger.Warn("job failed", zap.Error(err))
		result = nil
	}
	// Acks and replies go out even when the consume context is ending.
	ctx = context.WithoutCancel(ctx)
	if err := d.engine.Ack(ctx, job); err != nil {
		logger.Error("ack failed", zap.Error(err))
	}
	if IsEmpty(result) {
		return
	}
	if err := d.engine.Response(ctx, job, result); err != nil {
		logger.Error("response failed", zap.Error(err))
	}
}

func (d *Dispatcher) handle(ctx context.Context, job engine.Job) (any, string, error) {
	h, err := d.selectHandler(job)
	if err != nil {
		return nil, "", &HandlerError{JobID: job.ID, Err: err}
	}
	name := handlerName(h)
	var result any
	attempts, err := worker.Retry(ctx, d.retry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			d.logger.Debug("retrying job", zap.String("job_id", job.ID), zap.Int("attempt", attempt))
		}
		var err error
		result, err = invoke(ctx, h, job)
		return err
	})
	if err != nil {
		return nil, name, &HandlerError{JobID: job.ID, Handler: name, Attempts: attempts, Err: err}
	}
	return result, name, nil
}

func (d *Dispatcher) selectHandler(job engine.Job) (h capability.Handler, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			h, err = nil, fmt.Errorf("handler selection panic: %v", rec)
		}
	}()
	for _, h := range d.handlers {
		if h.IsScrapeable(job) {
			return h, nil
		}
	}
	return nil, ErrNoHandler
}

func invoke(ctx context.Context, h capability.Handler, job engine.Job) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, worker.Permanent(fmt.Errorf("handler panic: %v", rec))
		}
	}()
	return h.Handle(ctx, job)
}

// Close closes handlers holding resources, then the engine. It is safe to
// call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		var errs []error
		for _, h := range d.handlers {
			if c, ok := h.(capability.Closer); ok {
				if err := c.Close(ctx); err != nil {
					errs = append(errs, fmt.Errorf("close handler %s: %w", handlerName(h), err))
				}
			}
		}
		if err := d.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

func handlerName(h capability.Handler) string {
	t := reflect.TypeOf(h)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if pkg := t.PkgPath(); pkg != "" {
		return path.Base(pkg) + "." + t.Name()
	}
	return t.String()
}

// IsEmpty reports whether result carries nothing worth replying with: nil,
// nil pointers and interfaces, empty strings, empty collections, scalars and
// structs without fields.
func IsEmpty(result any) bool {
	if result == nil {
		return true
	}
	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.String, reflect.Map, reflect.Slice, reflect.Array, reflect.Chan:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return true
		}
		return IsEmpty(v.Elem().Interface())
	case reflect.Struct:
		return v.NumField() == 0
	default:
		return true
	}
}
