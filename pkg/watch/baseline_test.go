package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaselineCache_EmptyThenCache(t *testing.T) {
	c := NewBaselineCache(t.TempDir(), slog.Default())

	content, source, existed := c.Baseline("main.go")
	assert.Empty(t, content)
	assert.Equal(t, SourceCache, source)
	assert.False(t, existed)

	c.Update("main.go", "package main\n")
	content, source, existed = c.Baseline("main.go")
	assert.Equal(t, "package main\n", content)
	assert.Equal(t, SourceCache, source)
	assert.True(t, existed)

	c.Forget("main.go")
	_, _, existed = c.Baseline("main.go")
	assert.False(t, existed)
}

func TestBaselineCache_SeedsFromGitHead(t *testing.T) {
	root := t.TempDir()

	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("committed\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	c := NewBaselineCache(root, slog.Default())

	content, source, existed := c.Baseline("main.go")
	assert.Equal(t, "committed\n", content)
	assert.Equal(t, SourceHead, source)
	assert.True(t, existed)

	// Untracked files still start from an empty cache baseline.
	_, source, existed = c.Baseline("untracked.go")
	assert.Equal(t, SourceCache, source)
	assert.False(t, existed)

	// Once observed, the cache wins over HEAD.
	c.Update("main.go", "edited\n")
	content, source, existed = c.Baseline("main.go")
	assert.Equal(t, "edited\n", content)
	assert.Equal(t, SourceCache, source)
	assert.True(t, existed)
}
