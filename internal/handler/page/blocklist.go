package page

import "strings"

// hostBlocklist matches exact hosts and "*.example.com" / ".example.com"
// suffix patterns. A suffix pattern also matches the bare domain.
type hostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostBlocklist(patterns []string) *hostBlocklist {
	b := &hostBlocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.ToLower(strings.TrimSpace(raw))
		suffix := strings.TrimPrefix(strings.TrimPrefix(value, "*"), ".")
		switch {
		case suffix == "":
			continue
		case suffix != value:
			b.suffixes = append(b.suffixes, suffix)
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *hostBlocklist) blocked(host string) bool {
	if b == nil || host == "" {
		return false
	}
	host = strings.ToLower(host)
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
