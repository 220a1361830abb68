package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codetrail/codetrail/pkg/models"
)

// teardownGrace bounds how long a swap waits for the old watcher's loop
// to drain before the new one starts.
const teardownGrace = 2 * time.Second

// ProjectLister is the slice of the store the supervisor needs at boot.
type ProjectLister interface {
	ActiveProjects(ctx context.Context) ([]models.Project, error)
}

// Supervisor owns one watcher per active project. Configuration changes
// swap the watcher: the old instance is stopped before a replacement
// starts, so at most one watcher observes a project at a time.
type Supervisor struct {
	sink        Sink
	ignoreParts []string
	maxBytes    int64
	debounce    time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	watchers map[int64]*Watcher
}

func NewSupervisor(sink Sink, ignoreParts []string, maxBytes int64, debounce time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		sink:        sink,
		ignoreParts: ignoreParts,
		maxBytes:    maxBytes,
		debounce:    debounce,
		logger:      logger.With("component", "watch_supervisor"),
		watchers:    make(map[int64]*Watcher),
	}
}

// Boot starts a watcher for every active project. A project whose
// watcher cannot start is skipped after Ensure records the error event;
// one bad path must not keep the rest of the system down.
func (s *Supervisor) Boot(ctx context.Context, lister ProjectLister) error {
	projects, err := lister.ActiveProjects(ctx)
	if err != nil {
		return fmt.Errorf("list active projects: %w", err)
	}

	for _, p := range projects {
		if err := s.Ensure(ctx, p); err != nil {
			s.logger.Warn("Skipping project at boot", "project_id", p.ID, "error", err)
		}
	}
	return nil
}

// Ensure starts (or restarts, after a config change) the watcher of an
// active project, and stops it for an inactive one. The swap is
// serialized per supervisor: the old watcher is fully down before the
// new one starts.
func (s *Supervisor) Ensure(ctx context.Context, p models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(p.ID)

	if !p.Active {
		return nil
	}

	id := p.ID
	w, err := NewWatcher(p, s.ignoreParts, s.sink, Options{
		MaxBytes: s.maxBytes,
		Debounce: s.debounce,
		Logger:   s.logger,
		OnFailure: func(cause error) {
			s.onWatcherDied(id, p, cause)
		},
	})
	if err != nil {
		err = fmt.Errorf("create watcher for project %d: %w", p.ID, err)
		s.reportFailure(ctx, p, err)
		return err
	}
	if err := w.Start(ctx); err != nil {
		err = fmt.Errorf("start watcher for project %d: %w", p.ID, err)
		s.reportFailure(ctx, p, err)
		return err
	}

	s.watchers[p.ID] = w
	return nil
}

// Drop stops the watcher of a project, if any. Called on project
// deletion and deactivation.
func (s *Supervisor) Drop(projectID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(projectID)
}

// Watching reports whether a project currently has a live watcher.
func (s *Supervisor) Watching(projectID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watchers[projectID]
	return ok
}

// Shutdown stops every watcher.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.watchers {
		s.stopLocked(id)
	}
}

func (s *Supervisor) stopLocked(projectID int64) {
	w, ok := s.watchers[projectID]
	if !ok {
		return
	}
	delete(s.watchers, projectID)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(teardownGrace):
		s.logger.Warn("Watcher teardown exceeded grace period", "project_id", projectID)
	}
}

// onWatcherDied records the failure and forgets the watcher. There is
// no automatic restart; the project stays unwatched until its config is
// touched again.
func (s *Supervisor) onWatcherDied(projectID int64, p models.Project, cause error) {
	s.mu.Lock()
	delete(s.watchers, projectID)
	s.mu.Unlock()

	s.reportFailure(context.Background(), p, cause)
}

func (s *Supervisor) reportFailure(ctx context.Context, p models.Project, cause error) {
	s.logger.Error("Project watcher failed", "project_id", p.ID, "error", cause)
	id := p.ID
	s.sink.Record(ctx, &id, models.KindError, "", models.ErrorPayload{
		Message: fmt.Sprintf("watcher failed: %v", cause),
		Context: map[string]any{"project_id": p.ID, "project_path": p.Path},
	})
}
