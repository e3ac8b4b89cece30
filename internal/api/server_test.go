package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/config"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	memoryengine "github.com/JakeFAU/scrape-dispatch/internal/engine/memory"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
)

func newRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	r := provider.NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(context.Background(),
		provider.NewSimple(capability.CategoryEngine, "null", engine.Null{}),
		provider.NewSimple(capability.CategoryHandler, "noop", struct{}{}),
	))
	return r
}

func newTestServer(t *testing.T, publisher engine.Publisher, cfg config.ServerConfig) *Server {
	t.Helper()
	return NewServer(newRegistry(t), publisher, nil, cfg, zap.NewNop())
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, config.ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	notReady := NewServer(newRegistry(t), nil, func(context.Context) error {
		return errors.New("engine not connected")
	}, config.ServerConfig{}, zap.NewNop())
	rec = httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "engine not connected")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.Init()
	metrics.ObserveJob("page.Handler", "ok", 0)
	srv := newTestServer(t, nil, config.ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dispatch_jobs_total")
}

func TestListProviders(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, config.ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Providers []providerInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "engine/null", body.Providers[0].Key)
	assert.Equal(t, "HANDLER", body.Providers[1].Category)
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	eng := memoryengine.New(4)
	srv := newTestServer(t, eng, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"type":"page","url":"https://example.com"}`))
	req.Header.Set(ReplyToHeader, "replies")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"job_id":"1"}`, rec.Body.String())

	ctx, cancel := context.WithCancel(context.Background())
	var got engine.Job
	require.NoError(t, eng.Consume(ctx, func(_ context.Context, job engine.Job) {
		got = job
		cancel()
	}))
	assert.Equal(t, "page", got.Kind())
	assert.Equal(t, "replies", got.Metadata.(*memoryengine.Delivery).ReplyTo)
}

func TestSubmitJobErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil, config.ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusNotImplemented, rec.Code)

	eng := memoryengine.New(1)
	srv = newTestServer(t, eng, config.ServerConfig{})
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{invalid`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	big := `"` + strings.Repeat("a", maxJobBytes) + `"`
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(big)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	require.NoError(t, eng.Close())
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "enqueue job")
}

func TestAPIKey(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, memoryengine.New(1), config.ServerConfig{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/providers", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
