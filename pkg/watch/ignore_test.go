package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_GlobalSegments(t *testing.T) {
	m := NewMatcher([]string{".git", "node_modules"}, nil)

	assert.True(t, m.Skip(".git/HEAD"))
	assert.True(t, m.Skip("web/node_modules/react/index.js"))
	assert.False(t, m.Skip("src/main.go"))
	assert.False(t, m.Skip("gitlog.txt"))
}

func TestMatcher_ProjectGlobs(t *testing.T) {
	m := NewMatcher(nil, []string{"*.log", "dist/**", "docs/*.md"})

	assert.True(t, m.Skip("server.log"))
	assert.True(t, m.Skip("deep/nested/server.log"), "basename match applies anywhere")
	assert.True(t, m.Skip("dist/bundle.js"))
	assert.True(t, m.Skip("docs/readme.md"))
	assert.False(t, m.Skip("docs/sub/readme.md"))
	assert.False(t, m.Skip("src/main.go"))
}

func TestMatcher_EmptyAndRoot(t *testing.T) {
	m := NewMatcher([]string{".git"}, []string{"*.tmp"})

	assert.False(t, m.Skip(""))
	assert.False(t, m.Skip("."))
}

func TestMatcher_InvalidGlobNeverMatches(t *testing.T) {
	m := NewMatcher(nil, []string{"[unclosed"})

	assert.False(t, m.Skip("anything.go"))
}
