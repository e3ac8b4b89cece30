package provider

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Select filters a static catalog down to the providers matched by any of
// the "category/name" glob patterns, keeping catalog order. No patterns
// selects everything.
func Select(patterns []string, catalog []Provider) ([]Provider, error) {
	if len(patterns) == 0 {
		return append([]Provider(nil), catalog...), nil
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		var separators []rune
		if strings.Contains(pattern, "/") {
			separators = append(separators, '/')
		}
		g, err := glob.Compile(pattern, separators...)
		if err != nil {
			return nil, fmt.Errorf("compile plugin pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	out := make([]Provider, 0, len(catalog))
	for _, p := range catalog {
		key := Key(p)
		for _, g := range globs {
			if g.Match(key) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}
