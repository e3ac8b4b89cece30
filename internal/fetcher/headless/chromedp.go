// Package headless renders pages and captures browser sessions with chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/scrape-dispatch/internal/fetcher"
	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
)

const defaultNavTimeout = 45 * time.Second

// Browser fetches rendered pages and captures cookies.
type Browser interface {
	fetcher.Fetcher
	Capture(ctx context.Context, url string) (fetcher.Session, error)
}

// Config controls the behavior of the headless browser.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Chromedp drives a shared headless Chrome allocator.
type Chromedp struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a browser backed by chromedp. Chrome starts lazily on
// the first navigation.
func NewChromedp(cfg Config) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close stops the browser.
func (b *Chromedp) Close(context.Context) error {
	b.allocCancel()
	return nil
}

// Fetch navigates to req.URL and returns the rendered DOM.
func (b *Chromedp) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	taskCtx, done, err := b.task(ctx)
	if err != nil {
		return fetcher.Response{}, err
	}
	defer done()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var html, finalURL string
	actions := []chromedp.Action{
		b.networkSetup(req),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		metrics.ObserveFetch("chromedp", 0)
		return fetcher.Response{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(req.URL, finalURL)
	metrics.ObserveFetch("chromedp", status)
	resp := fetcher.Response{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Headless:   true,
	}
	if status >= http.StatusBadRequest {
		return resp, &fetcher.StatusError{URL: req.URL, StatusCode: status}
	}
	return resp, nil
}

// Capture visits url and returns the cookies the browser holds for it.
func (b *Chromedp) Capture(ctx context.Context, url string) (fetcher.Session, error) {
	taskCtx, done, err := b.task(ctx)
	if err != nil {
		return fetcher.Session{}, err
	}
	defer done()

	var cookies []*network.Cookie
	err = chromedp.Run(taskCtx,
		b.networkSetup(fetcher.Request{}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{url}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fetcher.Session{}, fmt.Errorf("capture session: %w", err)
	}
	return fetcher.Session{Cookies: toHTTPCookies(cookies), UserAgent: b.cfg.UserAgent}, nil
}

func (b *Chromedp) task(ctx context.Context) (context.Context, func(), error) {
	if err := b.acquire(ctx); err != nil {
		return nil, nil, err
	}
	// The tab follows ctx so callers can abandon a navigation.
	tabCtx, tabCancel := chromedp.NewContext(b.allocator)
	stop := context.AfterFunc(ctx, tabCancel)
	timeoutCtx, cancel := context.WithTimeout(tabCtx, b.cfg.NavigationTimeout)
	return timeoutCtx, func() {
		cancel()
		stop()
		tabCancel()
		b.release()
	}, nil
}

func (b *Chromedp) networkSetup(req fetcher.Request) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(req.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(req.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if len(req.Cookies) > 0 {
			if err := network.SetCookies(toCookieParams(req.URL, req.Cookies)).Do(ctx); err != nil {
				return fmt.Errorf("set cookies: %w", err)
			}
		}
		return nil
	})
}

func (b *Chromedp) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Chromedp) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// snapshotWithFallbacks prefers the document response, then the final
// location, then the requested URL. A missing status reads as 200.
func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

func toCookieParams(url string, in []*http.Cookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(in))
	for _, c := range in {
		out = append(out, &network.CookieParam{
			Name:   c.Name,
			Value:  c.Value,
			URL:    url,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return out
}
