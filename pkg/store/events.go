package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codetrail/codetrail/pkg/models"
)

// maxListLimit caps a single event page.
const maxListLimit = 500

type eventRow struct {
	ID        int64          `db:"id"`
	TS        int64          `db:"ts"`
	Kind      string         `db:"kind"`
	Path      string         `db:"path"`
	Payload   string         `db:"payload"`
	ProjectID sql.NullInt64  `db:"project_id"`
}

func (r eventRow) toModel() models.Event {
	evt := models.Event{
		ID:        r.ID,
		Timestamp: time.Unix(r.TS, 0).UTC(),
		Kind:      models.EventKind(r.Kind),
		Path:      r.Path,
		Payload:   json.RawMessage(r.Payload),
	}
	if r.ProjectID.Valid {
		id := r.ProjectID.Int64
		evt.ProjectID = &id
	}
	return evt
}

// AppendEvent atomically inserts an event and returns it with the assigned
// id and timestamp. Ids are strictly increasing with insertion order; the
// row is durable before the id is returned.
func (s *Store) AppendEvent(ctx context.Context, kind models.EventKind, projectID *int64, path string, payload json.RawMessage) (models.Event, error) {
	if !kind.Valid() {
		return models.Event{}, invalidf("unknown event kind %q", kind)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return models.Event{}, invalidf("payload is not valid JSON")
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO events (ts, kind, path, payload, project_id) VALUES (?, ?, ?, ?, ?)",
		now, string(kind), path, string(payload), nullableID(projectID))
	if err != nil {
		if isForeignKeyErr(err) {
			return models.Event{}, fmt.Errorf("%w: project %v", ErrNotFound, projectID)
		}
		return models.Event{}, fmt.Errorf("insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Event{}, fmt.Errorf("read event id: %w", err)
	}

	return models.Event{
		ID:        id,
		Timestamp: time.Unix(now, 0).UTC(),
		Kind:      kind,
		Path:      path,
		Payload:   payload,
		ProjectID: projectID,
	}, nil
}

// GetEvent reads a single event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (models.Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, ts, kind, path, payload, project_id FROM events WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Event{}, fmt.Errorf("%w: event %d", ErrNotFound, id)
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("get event %d: %w", id, err)
	}
	return row.toModel(), nil
}

// ListEvents returns one page of events, newest first (descending id), plus
// the total matching the same filter set.
func (s *Store) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		return nil, 0, invalidf("limit must be in [1,%d]", maxListLimit)
	}
	if filter.Offset < 0 {
		return nil, 0, invalidf("offset must be non-negative")
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, 0, invalidf("unknown event kind %q", filter.Kind)
	}

	where, args := eventWhere(filter)

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM events"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := "SELECT id, ts, kind, path, payload, project_id FROM events" + where +
		" ORDER BY id DESC LIMIT ? OFFSET ?"
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, append(args, filter.Limit, filter.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	events := make([]models.Event, len(rows))
	for i, r := range rows {
		events[i] = r.toModel()
	}
	return events, total, nil
}

// ListEventsForExport returns all matching events in ascending id order.
func (s *Store) ListEventsForExport(ctx context.Context, projectID *int64) ([]models.Event, error) {
	query := "SELECT id, ts, kind, path, payload, project_id FROM events"
	var args []any
	if projectID != nil {
		query += " WHERE project_id = ?"
		args = append(args, *projectID)
	}
	query += " ORDER BY id ASC"

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("export events: %w", err)
	}

	events := make([]models.Event, len(rows))
	for i, r := range rows {
		events[i] = r.toModel()
	}
	return events, nil
}

// RecentEvents returns up to limit events, newest first, optionally scoped
// to a project. Used for summary digests.
func (s *Store) RecentEvents(ctx context.Context, projectID *int64, limit int) ([]models.Event, error) {
	query := "SELECT id, ts, kind, path, payload, project_id FROM events"
	var args []any
	if projectID != nil {
		query += " WHERE project_id = ?"
		args = append(args, *projectID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}

	events := make([]models.Event, len(rows))
	for i, r := range rows {
		events[i] = r.toModel()
	}
	return events, nil
}

// CodeChangeEventsInWindow returns file_change events whose instant lies in
// [from, to], ascending, optionally scoped to a project. Used by the
// correlator to collect match candidates.
func (s *Store) CodeChangeEventsInWindow(ctx context.Context, projectID *int64, from, to time.Time, limit int) ([]models.Event, error) {
	query := "SELECT id, ts, kind, path, payload, project_id FROM events WHERE kind = ? AND ts >= ? AND ts <= ?"
	args := []any{string(models.KindFileChange), from.Unix(), to.Unix()}
	if projectID != nil {
		query += " AND project_id = ?"
		args = append(args, *projectID)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("code changes in window: %w", err)
	}

	events := make([]models.Event, len(rows))
	for i, r := range rows {
		events[i] = r.toModel()
	}
	return events, nil
}

// ChangeEventsSince returns file/folder change events newer than since,
// ascending, capped at limit. Used for implications digests.
func (s *Store) ChangeEventsSince(ctx context.Context, projectID *int64, since time.Time, limit int) ([]models.Event, error) {
	query := `SELECT id, ts, kind, path, payload, project_id FROM events
		WHERE ts >= ? AND kind IN (?, ?, ?, ?)`
	args := []any{since.Unix(),
		string(models.KindFileChange), string(models.KindFileDeleted),
		string(models.KindFolderCreated), string(models.KindFolderDeleted)}
	if projectID != nil {
		query += " AND project_id = ?"
		args = append(args, *projectID)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("change events since: %w", err)
	}

	events := make([]models.Event, len(rows))
	for i, r := range rows {
		events[i] = r.toModel()
	}
	return events, nil
}

// LatestEventOfKind returns the newest event of the given kind, optionally
// scoped to a project. Used by the latest-summary endpoint.
func (s *Store) LatestEventOfKind(ctx context.Context, kind models.EventKind, projectID *int64) (models.Event, error) {
	query := "SELECT id, ts, kind, path, payload, project_id FROM events WHERE kind = ?"
	args := []any{string(kind)}
	if projectID != nil {
		query += " AND project_id = ?"
		args = append(args, *projectID)
	}
	query += " ORDER BY id DESC LIMIT 1"

	var row eventRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Event{}, fmt.Errorf("%w: no %s event", ErrNotFound, kind)
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("latest %s event: %w", kind, err)
	}
	return row.toModel(), nil
}

// CountEvents returns the total number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM events"); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return total, nil
}

// eventWhere builds the WHERE clause shared by the count and page queries so
// total always reflects the same filter set as items.
func eventWhere(filter models.EventFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.ProjectID != nil {
		conds = append(conds, "project_id = ?")
		args = append(args, *filter.ProjectID)
	}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Search != "" {
		term := "%" + strings.ToLower(filter.Search) + "%"
		conds = append(conds, "(lower(path) LIKE ? OR lower(payload) LIKE ?)")
		args = append(args, term, term)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func isForeignKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
