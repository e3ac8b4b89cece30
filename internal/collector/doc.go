// Package collector holds the COLLECTOR providers. Collectors receive handler
// results; each subpackage writes them to one destination.
package collector

import "errors"

// ErrClosed is returned by collectors used after Close.
var ErrClosed = errors.New("collector closed")
