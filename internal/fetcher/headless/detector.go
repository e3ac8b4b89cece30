package headless

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/scrape-dispatch/internal/fetcher"
)

// DefaultRenderThreshold is the body size under which a script-heavy page
// is treated as a client-rendered shell.
const DefaultRenderThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Detector flags plain HTTP responses that need a browser to render.
type Detector struct {
	threshold int
}

// NewDetector returns a Detector. threshold <= 0 uses DefaultRenderThreshold.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultRenderThreshold
	}
	return &Detector{threshold: threshold}
}

// NeedsRender reports whether resp looks like an empty or single-page-app
// shell. Only 200 responses are considered.
func (d *Detector) NeedsRender(resp fetcher.Response) bool {
	if resp.Headless || resp.StatusCode != http.StatusOK {
		return false
	}
	if len(resp.Body) == 0 {
		return true
	}
	if len(resp.Body) < d.threshold && scriptShare(resp.Body) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return false
}

// scriptShare is the percentage of body bytes inside <script> elements. An
// unterminated element runs to the end of the body.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	var (
		covered int
		pos     int
	)
	for {
		i := bytes.Index(lower[pos:], []byte("<script"))
		if i < 0 {
			break
		}
		start := pos + i
		end := len(lower)
		if gt := bytes.IndexByte(lower[start:], '>'); gt >= 0 {
			content := start + gt + 1
			if j := bytes.Index(lower[content:], []byte("</script>")); j >= 0 {
				end = content + j + len("</script>")
			}
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / len(lower)
}
