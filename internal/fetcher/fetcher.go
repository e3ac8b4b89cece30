// Package fetcher defines the page retrieval contract shared by the HTTP and
// browser fetchers.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Request describes one page retrieval.
type Request struct {
	URL     string
	Headers http.Header
	Cookies []*http.Cookie
}

// Response is a fetched page.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Headless   bool
}

// Fetcher retrieves pages.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Session is browser state captured for reuse by plain HTTP fetches.
type Session struct {
	Cookies   []*http.Cookie
	UserAgent string
}

// Apply adds the session cookies to req.
func (s Session) Apply(req Request) Request {
	if len(s.Cookies) == 0 {
		return req
	}
	req.Cookies = append(append([]*http.Cookie(nil), req.Cookies...), s.Cookies...)
	return req
}

// StatusError is returned for responses with a 4xx or 5xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Unauthorized reports whether the server rejected the request's credentials.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
