package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns keep contact mining off pages that never carry
// contact details.
var defaultExcludePatterns = []string{
	"/blog/*",
	"/news/*",
	"/press/*",
	"/wp-content/*",
	"/*.pdf",
	"/*.jpg",
	"/*.png",
}

// PathMatcher filters URLs by glob-style path patterns. "/blog/*" matches
// nested paths such as "/blog/2024/post".
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher. No patterns means the defaults.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL matches a pattern. Unparseable URLs are
// excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchPath(pattern, p) {
			return true
		}
	}
	return false
}

func matchPath(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	// "/*.pdf" should match "/files/a.pdf" too.
	if strings.HasPrefix(pattern, "/*.") {
		return strings.HasSuffix(urlPath, strings.TrimPrefix(pattern, "/*"))
	}
	if dir, ok := strings.CutSuffix(pattern, "/*"); ok {
		return urlPath == dir || strings.HasPrefix(urlPath, dir+"/")
	}
	return false
}
