package watch

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher decides which paths a project watcher skips. Global segment
// names (.git, node_modules, ...) apply to every project; per-project
// glob patterns come from the project's configuration.
type Matcher struct {
	segments map[string]bool
	patterns []string
}

// NewMatcher builds a matcher from global path segments and per-project
// glob patterns. Invalid globs are kept and simply never match.
func NewMatcher(segments, patterns []string) *Matcher {
	set := make(map[string]bool, len(segments))
	for _, s := range segments {
		if s != "" {
			set[s] = true
		}
	}
	return &Matcher{segments: set, patterns: patterns}
}

// Skip reports whether the slash-separated relative path is ignored.
// Patterns are tried against the full relative path and against the
// basename, so "*.log" works without a leading "**/".
func (m *Matcher) Skip(relPath string) bool {
	if relPath == "" || relPath == "." {
		return false
	}

	parts := strings.Split(relPath, "/")
	for _, part := range parts {
		if m.segments[part] {
			return true
		}
	}

	base := parts[len(parts)-1]
	for _, pattern := range m.patterns {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pattern, base); err == nil && ok {
			return true
		}
	}
	return false
}
