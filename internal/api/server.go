package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/config"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/middleware"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

// ReplyToHeader names the reply address for a submitted job.
const ReplyToHeader = "X-Reply-To"

const maxJobBytes = 1 << 20

// ReadyFunc reports whether the service can take traffic.
type ReadyFunc func(ctx context.Context) error

// ProviderLister lists registered providers.
type ProviderLister interface {
	Providers() []provider.Provider
}

// Server wires HTTP handlers to the registry and the dispatcher's engine.
type Server struct {
	router    chi.Router
	providers ProviderLister
	publisher engine.Publisher
	ready     ReadyFunc
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. publisher may be
// nil when the engine cannot enqueue jobs.
func NewServer(
	providers ProviderLister,
	publisher engine.Publisher,
	ready ReadyFunc,
	cfg config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	s := &Server{
		providers: providers,
		publisher: publisher,
		ready:     ready,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(otelhttp.NewMiddleware("ops"))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/providers", s.listProviders)
		r.Post("/jobs", s.submitJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.ready(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type providerInfo struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Key      string `json:"key"`
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	all := s.providers.Providers()
	out := make([]providerInfo, 0, len(all))
	for _, p := range all {
		out = append(out, providerInfo{Category: p.Category(), Name: p.Name(), Key: provider.Key(p)})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		s.writeError(w, http.StatusNotImplemented, "engine does not accept submitted jobs")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJobBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if len(body) > maxJobBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "job body too large")
		return
	}
	if !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	id, err := s.publisher.Publish(ctx, body, r.Header.Get(ReplyToHeader))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("job submission failed", zap.Error(err))
		s.writeError(w, status, fmt.Sprintf("enqueue job: %v", err))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
