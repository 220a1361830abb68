package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/codetrail/codetrail/pkg/arch"
	"github.com/codetrail/codetrail/pkg/models"
	"github.com/codetrail/codetrail/pkg/store"
	"github.com/codetrail/codetrail/pkg/watch"
)

// ProjectService manages project records and keeps the watch supervisor
// in sync with them.
type ProjectService struct {
	store      *store.Store
	supervisor *watch.Supervisor
	tracker    *arch.Tracker
	logger     *slog.Logger
}

func NewProjectService(st *store.Store, supervisor *watch.Supervisor, tracker *arch.Tracker, logger *slog.Logger) *ProjectService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectService{
		store:      st,
		supervisor: supervisor,
		tracker:    tracker,
		logger:     logger.With("component", "project_service"),
	}
}

// Create registers a project, parses its architecture document when one
// is configured, and starts its watcher when active. A watcher that
// cannot start does not fail creation; the supervisor records the
// failure as an error event.
func (s *ProjectService) Create(ctx context.Context, p models.Project) (models.Project, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	created, err := s.store.CreateProject(opCtx, p)
	if err != nil {
		return models.Project{}, err
	}

	if created.DocPath != "" && s.tracker != nil {
		if rec, err := s.tracker.Refresh(ctx, created.ID); err != nil {
			s.logger.Warn("Architecture document parse failed",
				"project_id", created.ID, "doc_path", created.DocPath, "error", err)
		} else {
			created.Architecture = rec
		}
	}

	if created.Active && s.supervisor != nil {
		if err := s.supervisor.Ensure(ctx, created); err != nil {
			s.logger.Warn("Watcher did not start for new project",
				"project_id", created.ID, "error", err)
		}
	}
	s.logger.Info("Project created", "project_id", created.ID, "path", created.Path)
	return created, nil
}

// Get returns a single project.
func (s *ProjectService) Get(ctx context.Context, id int64) (models.Project, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.store.GetProject(opCtx, id)
}

// List returns projects with derived stats.
func (s *ProjectService) List(ctx context.Context, activeOnly *bool) ([]models.ProjectWithStats, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.store.ListProjects(opCtx, activeOnly)
}

// Update applies a partial update and reconciles the watcher with the
// resulting active flag.
func (s *ProjectService) Update(ctx context.Context, id int64, upd models.ProjectUpdate) (models.Project, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	updated, err := s.store.UpdateProject(opCtx, id, upd)
	if err != nil {
		return models.Project{}, err
	}

	if upd.Active != nil && s.supervisor != nil {
		if err := s.supervisor.Ensure(ctx, updated); err != nil {
			s.logger.Warn("Watcher reconcile failed", "project_id", id, "error", err)
		}
	}
	return updated, nil
}

// Delete stops the watcher and removes the project with its events,
// conversations, and matches.
func (s *ProjectService) Delete(ctx context.Context, id int64) error {
	if s.supervisor != nil {
		s.supervisor.Drop(id)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.store.DeleteProject(opCtx, id); err != nil {
		return err
	}
	s.logger.Info("Project deleted", "project_id", id)
	return nil
}

// GetConfig returns the mutable configuration slice.
func (s *ProjectService) GetConfig(ctx context.Context, id int64) (models.ProjectConfig, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return models.ProjectConfig{}, err
	}
	return models.ProjectConfig{IgnorePatterns: p.IgnorePatterns, DocPath: p.DocPath}, nil
}

// UpdateConfig persists the new configuration, re-parses the
// architecture document when one is configured, and swaps the watcher.
// It does not return until the swap has completed, so callers observe
// the new ignore patterns immediately.
func (s *ProjectService) UpdateConfig(ctx context.Context, id int64, cfg models.ProjectConfig) (models.Project, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.store.UpdateProjectConfig(opCtx, id, cfg); err != nil {
		return models.Project{}, err
	}

	if cfg.DocPath != "" && s.tracker != nil {
		if _, err := s.tracker.Refresh(ctx, id); err != nil {
			s.logger.Warn("Architecture document parse failed",
				"project_id", id, "doc_path", cfg.DocPath, "error", err)
		}
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return models.Project{}, err
	}
	if s.supervisor != nil {
		if err := s.supervisor.Ensure(ctx, updated); err != nil {
			s.logger.Warn("Watcher swap failed", "project_id", id, "error", err)
		}
	}
	return updated, nil
}

// TechnicalDoc returns the current architecture record.
func (s *ProjectService) TechnicalDoc(ctx context.Context, id int64) (*models.ArchitectureRecord, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Architecture == nil {
		return nil, store.NotFoundf("project %d has no architecture record", id)
	}
	return p.Architecture, nil
}

// RefreshTechnicalDoc re-parses the architecture document. A parse
// failure leaves the previous record intact.
func (s *ProjectService) RefreshTechnicalDoc(ctx context.Context, id int64) (*models.ArchitectureRecord, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.tracker.Refresh(refreshCtx, id)
}
