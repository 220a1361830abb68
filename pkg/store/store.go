// Package store is the sole durable home of projects, events, AI
// conversations, and AI-code matches. It persists everything in a single
// sqlite file and never interprets event payloads — callers pass serialized
// JSON in and get it back unchanged.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// Store wraps the sqlite connection. All mutating operations are serialized
// by sqlite's own transaction discipline; the Store is safe for concurrent
// use from any goroutine.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens or creates the sqlite database at dbPath and brings the schema
// up to date. The parent directory is created if missing.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite allows exactly one writer; a single connection avoids
	// SQLITE_BUSY churn between the watcher and request paths.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Health checks that the database answers a trivial query.
func (s *Store) Health(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    path TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    ignore_patterns TEXT NOT NULL DEFAULT '[]',
    doc_path TEXT NOT NULL DEFAULT '',
    architecture TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    kind TEXT NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}',
    project_id INTEGER REFERENCES projects(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_project_id ON events(project_id, id);
CREATE INDEX IF NOT EXISTS idx_events_kind_id ON events(kind, id);

CREATE TABLE IF NOT EXISTS ai_conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER REFERENCES projects(id) ON DELETE CASCADE,
    session_id TEXT NOT NULL DEFAULT '',
    ai_provider TEXT NOT NULL DEFAULT '',
    ai_model TEXT NOT NULL DEFAULT '',
    ts INTEGER NOT NULL,
    conversation_type TEXT NOT NULL DEFAULT 'chat',
    user_prompt TEXT NOT NULL DEFAULT '',
    ai_response TEXT NOT NULL DEFAULT '',
    context_files TEXT NOT NULL DEFAULT '[]',
    code_snippets TEXT NOT NULL DEFAULT '[]',
    metadata TEXT NOT NULL DEFAULT '{}',
    matched_to_events TEXT NOT NULL DEFAULT '[]',
    confidence_score REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ai_conversations_project_ts ON ai_conversations(project_id, ts);
CREATE INDEX IF NOT EXISTS idx_ai_conversations_session ON ai_conversations(session_id);

CREATE TABLE IF NOT EXISTS ai_code_matches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL REFERENCES ai_conversations(id) ON DELETE CASCADE,
    event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    match_type TEXT NOT NULL DEFAULT 'related',
    confidence REAL NOT NULL DEFAULT 0,
    reasoning TEXT NOT NULL DEFAULT '',
    file_overlap INTEGER NOT NULL DEFAULT 0,
    time_delta INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ai_code_matches_conversation ON ai_code_matches(conversation_id);
CREATE INDEX IF NOT EXISTS idx_ai_code_matches_event ON ai_code_matches(event_id);
`

// requiredColumns lists columns added after the initial schema shipped.
// migrate adds any that are missing; existing rows keep their data. There
// are no destructive migrations.
var requiredColumns = map[string][]columnDef{
	"projects": {
		{"active", "INTEGER NOT NULL DEFAULT 1"},
		{"ignore_patterns", "TEXT NOT NULL DEFAULT '[]'"},
		{"doc_path", "TEXT NOT NULL DEFAULT ''"},
		{"architecture", "TEXT"},
	},
	"ai_conversations": {
		{"conversation_type", "TEXT NOT NULL DEFAULT 'chat'"},
		{"matched_to_events", "TEXT NOT NULL DEFAULT '[]'"},
		{"confidence_score", "REAL NOT NULL DEFAULT 0"},
	},
	"ai_code_matches": {
		{"file_overlap", "INTEGER NOT NULL DEFAULT 0"},
	},
}

type columnDef struct {
	name string
	ddl  string
}

// migrate creates missing tables and adds missing columns with defaults.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	for table, cols := range requiredColumns {
		existing, err := s.tableColumns(table)
		if err != nil {
			return err
		}
		for _, col := range cols {
			if existing[col.name] {
				continue
			}
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.ddl)
			if _, err := s.db.Exec(ddl); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table, col.name, err)
			}
			slog.Info("Added missing column", "table", table, "column", col.name)
		}
	}

	return nil
}

// tableColumns returns the set of column names currently on a table.
func (s *Store) tableColumns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			dflt     any
			pk       int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}
