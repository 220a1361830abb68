package watch

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/go-git/go-git/v5"
)

// Baseline provenance values recorded on file_change payloads. The set
// is closed: a file nobody has content for diffs against an empty cache
// baseline.
const (
	SourceCache = "cache" // previous observed content, possibly empty
	SourceHead  = "head"  // git HEAD at first sighting
)

// BaselineCache holds the last observed content per file so each change
// diffs against what was actually seen before, not against disk state
// that may already have moved on. On first sight of a file the git HEAD
// version seeds the baseline, which makes the very first edit after
// startup produce a real diff instead of a whole-file insertion.
type BaselineCache struct {
	mu    sync.Mutex
	files map[string]string
	repo  *git.Repository
}

// NewBaselineCache creates a cache rooted at the project directory. When
// the directory is not a git repository, first sightings fall back to an
// empty baseline.
func NewBaselineCache(root string, logger *slog.Logger) *BaselineCache {
	c := &BaselineCache{files: make(map[string]string)}

	repo, err := git.PlainOpen(root)
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			logger.Warn("Could not open git repository, HEAD baselines disabled",
				"root", root, "error", err)
		}
		return c
	}
	c.repo = repo
	return c
}

// Baseline returns the prior content of relPath, where it came from,
// and whether any prior content actually existed. A file neither
// observed before nor present in HEAD reports an empty cache baseline
// with existed=false.
func (c *BaselineCache) Baseline(relPath string) (content, source string, existed bool) {
	c.mu.Lock()
	prev, ok := c.files[relPath]
	c.mu.Unlock()
	if ok {
		return prev, SourceCache, true
	}

	if head, ok := c.headContent(relPath); ok {
		return head, SourceHead, true
	}
	return "", SourceCache, false
}

// Update records content as the new baseline for relPath.
func (c *BaselineCache) Update(relPath, content string) {
	c.mu.Lock()
	c.files[relPath] = content
	c.mu.Unlock()
}

// Forget drops the baseline of a deleted file.
func (c *BaselineCache) Forget(relPath string) {
	c.mu.Lock()
	delete(c.files, relPath)
	c.mu.Unlock()
}

func (c *BaselineCache) headContent(relPath string) (string, bool) {
	if c.repo == nil {
		return "", false
	}

	head, err := c.repo.Head()
	if err != nil {
		return "", false
	}
	commit, err := c.repo.CommitObject(head.Hash())
	if err != nil {
		return "", false
	}
	file, err := commit.File(relPath)
	if err != nil {
		// Untracked files are expected here.
		return "", false
	}
	content, err := file.Contents()
	if err != nil {
		return "", false
	}
	return content, true
}
