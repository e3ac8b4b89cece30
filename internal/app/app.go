// Package app builds the long-lived services from configuration and runs
// them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/api"
	"github.com/JakeFAU/scrape-dispatch/internal/config"
	"github.com/JakeFAU/scrape-dispatch/internal/dispatcher"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/logging"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/telemetry"
)

// ErrNotRunning is reported by the readiness probe before Run starts.
var ErrNotRunning = errors.New("dispatcher not running")

// App holds the registry, dispatcher and ops server.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registry   *provider.Registry
	dispatcher *dispatcher.Dispatcher
	apiServer  *api.Server
	tracer     *sdktrace.TracerProvider
	running    atomic.Bool
}

// Build registers the providers selected by cfg.Plugins from catalog, then
// configures the dispatcher. A nil catalog uses Catalog(logger).
func Build(ctx context.Context, cfg config.Config, catalog []provider.Provider, logger *zap.Logger) (*App, error) {
	metrics.Init()
	if catalog == nil {
		catalog = Catalog(logger)
	}
	selected, err := provider.Select(cfg.Plugins, catalog)
	if err != nil {
		return nil, fmt.Errorf("select plugins: %w", err)
	}
	registry := provider.NewRegistry(logger)
	if err := registry.Register(ctx, selected...); err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}
	logger.Info("providers registered", zap.Int("count", len(selected)))

	d, err := dispatcher.Configure(ctx, registry, cfg.Dispatcher(), logger)
	if err != nil {
		if cerr := registry.Close(ctx); cerr != nil {
			logger.Warn("registry close failed", zap.Error(cerr))
		}
		return nil, fmt.Errorf("configure dispatcher: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, registry: registry, dispatcher: d}
	publisher, _ := d.Engine().(engine.Publisher)
	a.apiServer = api.NewServer(registry, publisher, a.ready, cfg.Server, logger)

	if cfg.Tracing.Enabled {
		if err := a.initTracing(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("init tracing: %w", err), a.Close(ctx))
		}
	}
	return a, nil
}

func (a *App) initTracing(ctx context.Context) error {
	exp, err := telemetry.NewExporter(a.cfg.Tracing)
	if err != nil {
		return err
	}
	var opts []sdktrace.TracerProviderOption
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
		a.logger.Info("exporting traces", zap.String("project_id", a.cfg.Tracing.ProjectID))
	}
	a.tracer, err = telemetry.InitTracerProvider(ctx, logging.ServiceName, a.cfg.Tracing, opts...)
	return err
}

// Registry returns the provider registry.
func (a *App) Registry() *provider.Registry {
	return a.registry
}

// Dispatcher returns the configured dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

func (a *App) ready(context.Context) error {
	if !a.running.Load() {
		return ErrNotRunning
	}
	return nil
}

// Run serves jobs, and the ops server when enabled, until ctx ends or the
// engine stops. It closes the App before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	a.running.Store(true)
	runErr := a.dispatcher.Start(ctx)
	a.running.Store(false)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close releases the dispatcher's handlers and engine, then every provider.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.dispatcher.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.registry.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
