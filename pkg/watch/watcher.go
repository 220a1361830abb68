// Package watch turns filesystem activity under a project root into
// recorded events. Each project gets one Watcher; the Supervisor owns
// their lifecycles.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codetrail/codetrail/pkg/models"
)

// Sink receives the events a watcher produces. The implementation is
// responsible for persistence and fan-out; the watcher never blocks on
// a slow sink beyond what Record itself does.
type Sink interface {
	Record(ctx context.Context, projectID *int64, kind models.EventKind, path string, payload models.EventPayload)
}

// Options configures a single project watcher.
type Options struct {
	MaxBytes int64
	Debounce time.Duration
	// OnFailure is called once if the watcher dies outside of Stop.
	OnFailure func(error)
	Logger    *slog.Logger
}

// Watcher observes one project root recursively and records file and
// folder events through its sink.
type Watcher struct {
	project  models.Project
	root     string
	matcher  *Matcher
	baseline *BaselineCache
	sink     Sink
	opts     Options
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	dirs   map[string]bool   // absolute paths of watched directories
	hashes map[string]string // rel path -> sha256 of last recorded content

	mu      sync.Mutex
	pending map[string]*time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher builds a watcher for the project. ignoreParts are the
// global segment names; the project's own glob patterns are read from
// its configuration.
func NewWatcher(project models.Project, ignoreParts []string, sink Sink, opts Options) (*Watcher, error) {
	info, err := os.Stat(project.Path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("project path is not a directory")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "watcher", "project_id", project.ID)

	return &Watcher{
		project:  project,
		root:     project.Path,
		matcher:  NewMatcher(ignoreParts, project.IgnorePatterns),
		baseline: NewBaselineCache(project.Path, logger),
		sink:     sink,
		opts:     opts,
		logger:   logger,
		fsw:      fsw,
		dirs:     make(map[string]bool),
		hashes:   make(map[string]string),
		pending:  make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start registers the directory tree with fsnotify and begins the event
// loop. Events produced before Start returns are possible once the
// walk has added the first directory.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		_ = w.fsw.Close()
		return err
	}
	w.logger.Info("Watching project", "root", w.root, "directories", len(w.dirs))

	go w.run(ctx)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.fsw.Close()
	})
	<-w.done
}

// Done is closed when the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.flushPending()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				w.fail(errors.New("event channel closed"))
				return
			}
			w.handle(ctx, evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.fail(errors.New("error channel closed"))
				return
			}
			w.logger.Warn("Watch error", "error", err)
		}
	}
}

func (w *Watcher) fail(err error) {
	select {
	case <-w.stopCh:
		// Normal shutdown, not a failure.
		return
	default:
	}
	w.logger.Error("Watcher died", "error", err)
	if w.opts.OnFailure != nil {
		w.opts.OnFailure(err)
	}
}

func (w *Watcher) handle(ctx context.Context, evt fsnotify.Event) {
	rel, ok := w.relPath(evt.Name)
	if !ok || w.matcher.Skip(rel) {
		return
	}

	switch {
	case evt.Has(fsnotify.Create):
		info, err := os.Stat(evt.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.onDirCreated(ctx, evt.Name, rel)
			return
		}
		w.scheduleFile(ctx, evt.Name, rel)
	case evt.Has(fsnotify.Write):
		w.scheduleFile(ctx, evt.Name, rel)
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		w.onRemoved(ctx, evt.Name, rel)
	}
}

func (w *Watcher) onDirCreated(ctx context.Context, abs, rel string) {
	if err := w.addTree(abs); err != nil {
		w.logger.Warn("Could not watch new directory", "path", rel, "error", err)
		return
	}
	w.record(ctx, models.KindFolderCreated, rel, models.FolderCreatedPayload{
		Event: "created",
		Type:  "directory",
	})
}

func (w *Watcher) onRemoved(ctx context.Context, abs, rel string) {
	w.cancelPending(rel)

	if w.dirs[abs] {
		w.forgetTree(abs, rel)
		w.record(ctx, models.KindFolderDeleted, rel, models.FolderDeletedPayload{
			Event: "deleted",
			Type:  "directory",
		})
		return
	}

	delete(w.hashes, rel)
	w.baseline.Forget(rel)
	w.record(ctx, models.KindFileDeleted, rel, models.FileDeletedPayload{Event: "deleted"})
}

// scheduleFile either processes a file change immediately or, with a
// debounce window configured, coalesces rapid saves into one event.
func (w *Watcher) scheduleFile(ctx context.Context, abs, rel string) {
	if w.opts.Debounce <= 0 {
		w.processFile(ctx, abs, rel)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[rel]; ok {
		timer.Reset(w.opts.Debounce)
		return
	}

	w.pending[rel] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, rel)
		w.mu.Unlock()
		w.processFile(ctx, abs, rel)
	})
}

func (w *Watcher) cancelPending(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[rel]; ok {
		timer.Stop()
		delete(w.pending, rel)
	}
}

func (w *Watcher) flushPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, timer := range w.pending {
		timer.Stop()
		delete(w.pending, rel)
	}
}

func (w *Watcher) processFile(ctx context.Context, abs, rel string) {
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return
	}
	if info.Size() > w.opts.MaxBytes {
		w.logger.Debug("Skipping oversized file", "path", rel, "size", info.Size())
		return
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		w.logger.Debug("Could not read changed file", "path", rel, "error", err)
		return
	}

	_, seen := w.hashes[rel]
	if !seen && len(data) == 0 {
		// Editors create the file first and write a moment later; wait
		// for the write so the creation event carries real content.
		return
	}

	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])
	if w.hashes[rel] == sha {
		// Editors fire spurious writes; identical content is not a change.
		return
	}

	content := string(data)
	old, source, existed := w.baseline.Baseline(rel)
	if !seen && content == old {
		// First observation matches the HEAD-seeded baseline; seed the
		// bookkeeping so the next edit diffs correctly, but there is no
		// change to record.
		w.baseline.Update(rel, content)
		w.hashes[rel] = sha
		return
	}
	diff, err := UnifiedDiff(old, content)
	if err != nil {
		w.logger.Warn("Diff failed", "path", rel, "error", err)
		diff = ""
	}

	// First sighting of a file nobody has content for is a creation;
	// anything diffing against cached or committed content is an edit.
	event := "modified"
	if !seen && !existed {
		event = "created"
	}

	w.baseline.Update(rel, content)
	w.hashes[rel] = sha

	w.record(ctx, models.KindFileChange, rel, models.FileChangePayload{
		Event:    event,
		Diff:     diff,
		SHA:      sha,
		Size:     len(data),
		Baseline: source,
	})
}

func (w *Watcher) record(ctx context.Context, kind models.EventKind, rel string, payload models.EventPayload) {
	id := w.project.ID
	w.sink.Record(ctx, &id, kind, rel, payload)
}

// addTree registers abs and every non-ignored directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Races with deletes during the walk are fine.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relPath(path); ok && w.matcher.Skip(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("Could not watch directory", "path", path, "error", err)
			return nil
		}
		w.dirs[path] = true
		return nil
	})
}

// forgetTree drops bookkeeping for a removed directory and its subtree.
// fsnotify removes the kernel watches itself when the inodes go away.
func (w *Watcher) forgetTree(abs, rel string) {
	prefix := abs + string(os.PathSeparator)
	for dir := range w.dirs {
		if dir == abs || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
		}
	}
	relPrefix := rel + "/"
	for p := range w.hashes {
		if strings.HasPrefix(p, relPrefix) {
			delete(w.hashes, p)
			w.baseline.Forget(p)
		}
	}
}

func (w *Watcher) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
