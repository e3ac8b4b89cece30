// Package page fetches the URL named by a job, detects content changes
// against the last stored hash and forwards changed pages to a collector.
//
// Jobs look like {"type": "page", "url": "https://...", "render": false,
// "headers": {"Accept-Language": "en"}}. With auto_render set, plain
// responses that look like script-rendered shells are fetched again through
// the browser. When a session URL is configured,
// a headless browser visits it and the captured cookies are reused by every
// fetch until the session TTL expires or a fetch is rejected with 401/403.
package page

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/cache"
	"github.com/JakeFAU/scrape-dispatch/internal/capability"
	"github.com/JakeFAU/scrape-dispatch/internal/clock"
	"github.com/JakeFAU/scrape-dispatch/internal/engine"
	"github.com/JakeFAU/scrape-dispatch/internal/fetcher"
	collyfetcher "github.com/JakeFAU/scrape-dispatch/internal/fetcher/colly"
	"github.com/JakeFAU/scrape-dispatch/internal/fetcher/headless"
	"github.com/JakeFAU/scrape-dispatch/internal/hash"
	"github.com/JakeFAU/scrape-dispatch/internal/policy/ratelimit"
	"github.com/JakeFAU/scrape-dispatch/internal/provider"
	"github.com/JakeFAU/scrape-dispatch/internal/worker"
)

// HashKeyPrefix prefixes the store key holding a URL's last content hash.
const HashKeyPrefix = "LAST_HASH_"

var (
	// ErrNoURL is returned for jobs without a "url" field.
	ErrNoURL = errors.New("job has no url")
	// ErrBlocked is returned for URLs on a blocked host. It is never retried.
	ErrBlocked = errors.New("host is blocked")
)

// Config configures HANDLER/page.
type Config struct {
	Kind               string           `mapstructure:"kind"`
	Store              any              `mapstructure:"store"`
	Collector          any              `mapstructure:"collector"`
	UserAgent          string           `mapstructure:"user_agent"`
	Timeout            time.Duration    `mapstructure:"timeout"`
	RespectRobots      bool             `mapstructure:"respect_robots"`
	RateLimit          ratelimit.Config `mapstructure:"rate_limit"`
	Browser            bool             `mapstructure:"browser"`
	BrowserMaxParallel int              `mapstructure:"browser_max_parallel"`
	SessionURL         string           `mapstructure:"session_url"`
	SessionTTL         time.Duration    `mapstructure:"session_ttl"`
	AutoRender         bool             `mapstructure:"auto_render"`
	RenderThreshold    int              `mapstructure:"render_threshold"`
	BlockedHosts       []string         `mapstructure:"blocked_hosts"`
}

// DefaultConfig returns the defaults applied before decoding.
func DefaultConfig() Config {
	return Config{
		Kind:               "page",
		Timeout:            15 * time.Second,
		RateLimit:          ratelimit.Config{DefaultRPS: 1, DefaultBurst: 1},
		BrowserMaxParallel: 2,
		SessionTTL:         10 * time.Minute,
		RenderThreshold:    headless.DefaultRenderThreshold,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Kind == "" {
		return errors.New("kind is required")
	}
	if c.Timeout < 0 || c.SessionTTL < 0 {
		return errors.New("timeout and session_ttl must be >= 0")
	}
	if c.BrowserMaxParallel < 0 {
		return errors.New("browser_max_parallel must be >= 0")
	}
	if c.SessionURL != "" && !c.Browser {
		return errors.New("session_url requires browser")
	}
	if c.AutoRender && !c.Browser {
		return errors.New("auto_render requires browser")
	}
	return nil
}

// Page is the item sent to the collector for changed content.
type Page struct {
	Kind       string    `json:"type"`
	JobID      string    `json:"job_id"`
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url"`
	StatusCode int       `json:"status_code"`
	Hash       string    `json:"hash"`
	Body       string    `json:"body"`
	Headless   bool      `json:"headless"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Result is returned to the job's requester.
type Result struct {
	Kind    string `json:"type"`
	URL     string `json:"url"`
	Hash    string `json:"hash"`
	Changed bool   `json:"changed"`
}

// Params holds the handler's collaborators.
type Params struct {
	Kind       string
	HTTP       fetcher.Fetcher
	Browser    headless.Browser
	Limiter    *ratelimit.Limiter
	Store      capability.Store
	Collector  capability.Collector
	SessionURL string
	SessionTTL time.Duration
	// Detector enables auto rendering when set.
	Detector     *headless.Detector
	BlockedHosts []string
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Handler implements capability.Handler for page jobs.
type Handler struct {
	kind      string
	http      fetcher.Fetcher
	browser   headless.Browser
	limiter   *ratelimit.Limiter
	sessions  *cache.ResourceCache[fetcher.Session]
	detector  *headless.Detector
	blocklist *hostBlocklist
	store     capability.Store
	collector capability.Collector
	hasher    hash.Hasher
	clock     clock.Clock
	logger    *zap.Logger
}

// New builds a Handler. A nil Browser disables rendering and sessions.
func New(p Params) *Handler {
	if p.Kind == "" {
		p.Kind = "page"
	}
	if p.Browser == nil {
		p.Browser = headless.Noop{}
	}
	if p.Limiter == nil {
		p.Limiter = ratelimit.New(ratelimit.Config{})
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	h := &Handler{
		kind:      p.Kind,
		http:      p.HTTP,
		browser:   p.Browser,
		limiter:   p.Limiter,
		detector:  p.Detector,
		blocklist: newHostBlocklist(p.BlockedHosts),
		store:     p.Store,
		collector: p.Collector,
		hasher:    hash.New(),
		clock:     p.Clock,
		logger:    p.Logger,
	}
	if p.SessionURL != "" {
		browser, url := p.Browser, p.SessionURL
		h.sessions = cache.New(p.SessionTTL,
			func(ctx context.Context) (fetcher.Session, error) {
				return browser.Capture(ctx, url)
			},
			cache.WithName("page_session"),
			cache.WithClock(p.Clock),
			cache.WithLogger(p.Logger),
		)
	}
	return h
}

// Init implements capability.Handler.
func (h *Handler) Init(context.Context) error {
	if h.http == nil || h.store == nil || h.collector == nil {
		return errors.New("page handler requires a fetcher, store and collector")
	}
	return nil
}

// IsScrapeable claims jobs whose type matches the configured kind.
func (h *Handler) IsScrapeable(job engine.Job) bool {
	return job.Kind() == h.kind
}

// Handle fetches the job's URL and reports whether its content changed.
func (h *Handler) Handle(ctx context.Context, job engine.Job) (any, error) {
	url := job.String("url")
	if url == "" {
		return nil, ErrNoURL
	}
	canonical, err := fetcher.NormalizeURL(url)
	if err != nil {
		return nil, worker.Permanent(err)
	}
	logger := h.logger.With(zap.String("job_id", job.ID), zap.String("url", url))
	if host := ratelimit.Host(canonical); h.blocklist.blocked(host) {
		return nil, worker.Permanent(fmt.Errorf("%w: %s", ErrBlocked, host))
	}

	if err := h.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}

	req := fetcher.Request{URL: url, Headers: jobHeaders(job)}
	if h.sessions != nil {
		session, err := h.sessions.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("page session: %w", err)
		}
		req = session.Apply(req)
	}

	f := h.http
	render, _ := job.Field("render")
	if render == true {
		f = h.browser
	}
	resp, err := f.Fetch(ctx, req)
	if err != nil {
		var statusErr *fetcher.StatusError
		if h.sessions != nil && errors.As(err, &statusErr) && statusErr.Unauthorized() {
			logger.Info("session rejected, dropping it", zap.Int("status", statusErr.StatusCode))
			h.sessions.Release()
		}
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	if render != true && h.detector != nil && h.detector.NeedsRender(resp) {
		logger.Debug("response looks client-rendered, using browser")
		rendered, err := h.browser.Fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("render page: %w", err)
		}
		resp = rendered
	}

	digest := h.hasher.Hash(resp.Body)
	key := HashKeyPrefix + canonical
	last, ok := h.store.Get(ctx, key)
	changed := !ok || last != digest
	if changed {
		page := Page{
			Kind:       h.kind,
			JobID:      job.ID,
			URL:        url,
			FinalURL:   resp.URL,
			StatusCode: resp.StatusCode,
			Hash:       digest,
			Body:       string(resp.Body),
			Headless:   resp.Headless,
			FetchedAt:  h.clock.Now().UTC(),
		}
		if err := h.collector.Collect(ctx, page); err != nil {
			return nil, fmt.Errorf("collect page: %w", err)
		}
		if !h.store.Set(ctx, key, digest) {
			logger.Warn("failed to record content hash")
		}
	}
	logger.Debug("page handled", zap.Bool("changed", changed), zap.String("hash", digest))
	return Result{Kind: h.kind, URL: url, Hash: digest, Changed: changed}, nil
}

// Close closes the collector and browser when they hold resources.
func (h *Handler) Close(ctx context.Context) error {
	var errs []error
	if c, ok := h.collector.(capability.Closer); ok {
		errs = append(errs, c.Close(ctx))
	}
	if c, ok := h.browser.(capability.Closer); ok {
		errs = append(errs, c.Close(ctx))
	}
	return errors.Join(errs...)
}

func jobHeaders(job engine.Job) http.Header {
	raw, ok := job.Field("headers")
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	headers := make(http.Header, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			headers.Add(k, val)
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					headers.Add(k, s)
				}
			}
		}
	}
	return headers
}

// NewProvider returns HANDLER/page.
func NewProvider(logger *zap.Logger) provider.Provider {
	log := logger.Named("handler.page")
	return provider.Define(capability.CategoryHandler, "page",
		func(ctx context.Context, r *provider.Registry, cfg Config) (any, error) {
			store, err := provider.MakeAs[capability.Store](ctx, r, capability.CategoryStore, cfg.Store)
			if err != nil {
				return nil, fmt.Errorf("page handler store: %w", err)
			}
			collector, err := provider.MakeAs[capability.Collector](ctx, r, capability.CategoryCollector, cfg.Collector)
			if err != nil {
				return nil, fmt.Errorf("page handler collector: %w", err)
			}
			p := Params{
				Kind: cfg.Kind,
				HTTP: collyfetcher.New(collyfetcher.Config{
					UserAgent:     cfg.UserAgent,
					RespectRobots: cfg.RespectRobots,
					Timeout:       cfg.Timeout,
				}),
				Limiter:      ratelimit.New(cfg.RateLimit),
				Store:        store,
				Collector:    collector,
				SessionURL:   cfg.SessionURL,
				SessionTTL:   cfg.SessionTTL,
				BlockedHosts: cfg.BlockedHosts,
				Logger:       log,
			}
			if cfg.Browser {
				browser, err := headless.NewChromedp(headless.Config{
					MaxParallel:       cfg.BrowserMaxParallel,
					UserAgent:         cfg.UserAgent,
					NavigationTimeout: 3 * cfg.Timeout,
				})
				if err != nil {
					return nil, fmt.Errorf("page handler browser: %w", err)
				}
				p.Browser = browser
				if cfg.AutoRender {
					p.Detector = headless.NewDetector(cfg.RenderThreshold)
				}
			}
			return New(p), nil
		},
		provider.WithDefaults(DefaultConfig),
	)
}
