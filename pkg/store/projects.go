package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/codetrail/codetrail/pkg/models"
)

type projectRow struct {
	ID             int64          `db:"id"`
	Name           string         `db:"name"`
	Path           string         `db:"path"`
	Description    string         `db:"description"`
	CreatedAt      int64          `db:"created_at"`
	Active         bool           `db:"active"`
	IgnorePatterns string         `db:"ignore_patterns"`
	DocPath        string         `db:"doc_path"`
	Architecture   sql.NullString `db:"architecture"`
}

const projectColumns = "id, name, path, description, created_at, active, ignore_patterns, doc_path, architecture"

func (r projectRow) toModel() (models.Project, error) {
	p := models.Project{
		ID:          r.ID,
		Name:        r.Name,
		Path:        r.Path,
		Description: r.Description,
		CreatedAt:   time.Unix(r.CreatedAt, 0).UTC(),
		Active:      r.Active,
		DocPath:     r.DocPath,
	}
	if err := json.Unmarshal([]byte(orDefault(r.IgnorePatterns, "[]")), &p.IgnorePatterns); err != nil {
		return p, fmt.Errorf("decode ignore patterns of project %d: %w", r.ID, err)
	}
	if r.Architecture.Valid && r.Architecture.String != "" {
		var rec models.ArchitectureRecord
		if err := json.Unmarshal([]byte(r.Architecture.String), &rec); err != nil {
			return p, fmt.Errorf("decode architecture of project %d: %w", r.ID, err)
		}
		p.Architecture = &rec
	}
	return p, nil
}

// CreateProject inserts a project and returns it with the assigned id.
// The path must be unique; duplicates return ErrConflict.
func (s *Store) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	if p.Name == "" {
		return models.Project{}, invalidf("project name is required")
	}
	if p.Path == "" {
		return models.Project{}, invalidf("project path is required")
	}

	patterns, err := json.Marshal(emptyIfNil(p.IgnorePatterns))
	if err != nil {
		return models.Project{}, fmt.Errorf("encode ignore patterns: %w", err)
	}

	var arch any
	if p.Architecture != nil {
		data, err := json.Marshal(p.Architecture)
		if err != nil {
			return models.Project{}, fmt.Errorf("encode architecture: %w", err)
		}
		arch = string(data)
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, path, description, created_at, active, ignore_patterns, doc_path, architecture)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Path, p.Description, now, p.Active, string(patterns), p.DocPath, arch)
	if err != nil {
		if isUniqueErr(err) {
			return models.Project{}, fmt.Errorf("%w: project path %q", ErrConflict, p.Path)
		}
		return models.Project{}, fmt.Errorf("insert project: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Project{}, fmt.Errorf("read project id: %w", err)
	}

	p.ID = id
	p.CreatedAt = time.Unix(now, 0).UTC()
	if p.IgnorePatterns == nil {
		p.IgnorePatterns = []string{}
	}
	return p, nil
}

// GetProject reads a single project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (models.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, fmt.Errorf("%w: project %d", ErrNotFound, id)
	}
	if err != nil {
		return models.Project{}, fmt.Errorf("get project %d: %w", id, err)
	}
	return row.toModel()
}

// ListProjects returns projects newest first. When activeOnly is non-nil it
// filters on the active flag. Derived stats are computed per project.
func (s *Store) ListProjects(ctx context.Context, activeOnly *bool) ([]models.ProjectWithStats, error) {
	query := "SELECT " + projectColumns + " FROM projects"
	var args []any
	if activeOnly != nil {
		query += " WHERE active = ?"
		args = append(args, *activeOnly)
	}
	query += " ORDER BY created_at DESC, id DESC"

	var rows []projectRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	out := make([]models.ProjectWithStats, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}

		var count int
		if err := s.db.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM events WHERE project_id = ?", p.ID); err != nil {
			return nil, fmt.Errorf("count events of project %d: %w", p.ID, err)
		}

		stats := models.ProjectStats{EventCount: count}
		if p.Architecture != nil {
			stats.HasArchitecture = true
			stats.ChangeLogSize = len(p.Architecture.ChangeLog)
			updated := p.Architecture.UpdatedAt
			stats.LastUpdated = &updated
		}
		out = append(out, models.ProjectWithStats{Project: p, Stats: stats})
	}
	return out, nil
}

// ActiveProjects returns all projects with the active flag set. The
// supervisor starts one watcher per returned project at boot.
func (s *Store) ActiveProjects(ctx context.Context) ([]models.Project, error) {
	var rows []projectRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+projectColumns+" FROM projects WHERE active = 1 ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
	}

	out := make([]models.Project, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdateProject applies a partial update; nil fields are left unchanged.
func (s *Store) UpdateProject(ctx context.Context, id int64, upd models.ProjectUpdate) (models.Project, error) {
	if _, err := s.GetProject(ctx, id); err != nil {
		return models.Project{}, err
	}

	if upd.Name != nil {
		if *upd.Name == "" {
			return models.Project{}, invalidf("project name cannot be empty")
		}
		if _, err := s.db.ExecContext(ctx, "UPDATE projects SET name = ? WHERE id = ?", *upd.Name, id); err != nil {
			return models.Project{}, fmt.Errorf("update project name: %w", err)
		}
	}
	if upd.Description != nil {
		if _, err := s.db.ExecContext(ctx, "UPDATE projects SET description = ? WHERE id = ?", *upd.Description, id); err != nil {
			return models.Project{}, fmt.Errorf("update project description: %w", err)
		}
	}
	if upd.Active != nil {
		if _, err := s.db.ExecContext(ctx, "UPDATE projects SET active = ? WHERE id = ?", *upd.Active, id); err != nil {
			return models.Project{}, fmt.Errorf("update project active flag: %w", err)
		}
	}

	return s.GetProject(ctx, id)
}

// UpdateProjectConfig replaces the ignore-pattern list and architecture
// document path.
func (s *Store) UpdateProjectConfig(ctx context.Context, id int64, cfg models.ProjectConfig) error {
	patterns, err := json.Marshal(emptyIfNil(cfg.IgnorePatterns))
	if err != nil {
		return fmt.Errorf("encode ignore patterns: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET ignore_patterns = ?, doc_path = ? WHERE id = ?",
		string(patterns), cfg.DocPath, id)
	if err != nil {
		return fmt.Errorf("update project config: %w", err)
	}
	return requireRow(res, id)
}

// UpdateProjectArchitecture replaces the stored architecture record. A nil
// record clears it.
func (s *Store) UpdateProjectArchitecture(ctx context.Context, id int64, rec *models.ArchitectureRecord) error {
	var arch any
	if rec != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode architecture: %w", err)
		}
		arch = string(data)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET architecture = ? WHERE id = ?", arch, id)
	if err != nil {
		return fmt.Errorf("update project architecture: %w", err)
	}
	return requireRow(res, id)
}

// DeleteProject removes a project; events, conversations, and matches
// cascade via foreign keys.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project %d: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, projectID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: project %d", ErrNotFound, projectID)
	}
	return nil
}

func isUniqueErr(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func emptyIfNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
