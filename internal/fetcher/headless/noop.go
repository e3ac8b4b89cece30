package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/scrape-dispatch/internal/fetcher"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless browser not configured")

// Noop is the Browser used when no browser is configured.
type Noop struct{}

// Fetch implements Browser.
func (Noop) Fetch(context.Context, fetcher.Request) (fetcher.Response, error) {
	return fetcher.Response{}, ErrDisabled
}

// Capture implements Browser.
func (Noop) Capture(context.Context, string) (fetcher.Session, error) {
	return fetcher.Session{}, ErrDisabled
}
