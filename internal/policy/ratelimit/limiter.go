// Package ratelimit implements token bucket rate limiting keyed by URL host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
)

// HostLimit overrides the default rate for one host.
type HostLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration. A non-positive RPS disables
// limiting.
type Config struct {
	DefaultRPS   float64              `mapstructure:"rps"`
	DefaultBurst int                  `mapstructure:"burst"`
	Hosts        map[string]HostLimit `mapstructure:"hosts"`
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	hosts := make(map[string]HostLimit, len(cfg.Hosts))
	for h, l := range cfg.Hosts {
		hosts[strings.ToLower(h)] = l
	}
	cfg.Hosts = hosts
	return &Limiter{limiters: make(map[string]*rate.Limiter), cfg: cfg}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(r, burst)
}

func (l *Limiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if ok {
		return limiter
	}
	if hl, ok := l.cfg.Hosts[host]; ok {
		limiter = newLimiter(hl.RPS, hl.Burst)
	} else {
		limiter = newLimiter(l.cfg.DefaultRPS, l.cfg.DefaultBurst)
	}
	l.limiters[host] = limiter
	return limiter
}

// Wait blocks until a token is available for rawURL's host, respecting the
// context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := Host(rawURL)
	start := time.Now()
	if err := l.limiter(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

// Host returns the lower-cased host of rawURL, or "unknown".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
