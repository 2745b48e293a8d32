// Package store provides the BlueKit catalog database.
//
// The catalog is an embedded SQLite database (<home>/.bluekit/bluekit.db)
// holding projects, scanned resources, remote workspaces with their
// catalogs and variations, subscriptions linking pulled resources to
// variations, and the editorial entities (plans, walkthroughs,
// checkpoints) pinned to projects.
//
// The database runs in WAL mode so readers proceed during writes. Foreign
// keys are enforced; deleting a project cascades to everything pinned to
// it, and deleting a catalog cascades to its variations and subscriptions.
//
// Timestamps keep the scale the GUI parses per entity: library entities
// (resources, workspaces, catalogs, variations, subscriptions, folders)
// use Unix seconds, editorial entities (projects, plans, walkthroughs,
// checkpoints and their children) use Unix milliseconds.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bluekit-app/bluekit/internal/apperr"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the database connection. A Store obtained inside WithTx runs
// every query in that transaction.
type Store struct {
	conn *sql.DB
	q    querier
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the catalog database at path and
// initializes its schema.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	connStr := path
	if !strings.HasPrefix(connStr, "file:") {
		connStr = "file:" + path
	}
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// PRAGMAs are per connection; a single connection keeps them applied
	// and serializes writers, which SQLite does anyway.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn, q: conn, path: path, now: time.Now}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := s.InitSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB { return s.conn }

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// WithTx runs fn inside a transaction. The Store passed to fn routes all
// queries through the transaction; fn's error rolls it back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txStore := &Store{conn: s.conn, q: tx, path: s.path, now: s.now}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	git_url TEXT,
	git_branch TEXT,
	git_commit TEXT,
	created_at INTEGER NOT NULL,      -- ms
	updated_at INTEGER NOT NULL,      -- ms
	last_opened_at INTEGER
);

CREATE TABLE IF NOT EXISTS resources (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	file_name TEXT NOT NULL,
	artifact_type TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	front_matter TEXT,                -- JSON
	last_modified_at INTEGER NOT NULL, -- s
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,      -- s
	updated_at INTEGER NOT NULL,      -- s
	UNIQUE (project_id, relative_path),
	FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	repo TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at INTEGER NOT NULL,      -- s
	updated_at INTEGER NOT NULL,      -- s
	UNIQUE (owner, repo)
);

CREATE TABLE IF NOT EXISTS catalogs (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	remote_path TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
	artifact_type TEXT NOT NULL,
	folder TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,      -- s
	updated_at INTEGER NOT NULL,      -- s
	UNIQUE (workspace_id, remote_path),
	FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS variations (
	id TEXT PRIMARY KEY,
	catalog_id TEXT NOT NULL,
	remote_path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	remote_sha TEXT NOT NULL DEFAULT '',
	publisher TEXT NOT NULL DEFAULT '',
	version_tag TEXT NOT NULL DEFAULT '',
	published_at INTEGER NOT NULL,    -- s
	created_at INTEGER NOT NULL,      -- s
	updated_at INTEGER NOT NULL,      -- s
	FOREIGN KEY (catalog_id) REFERENCES catalogs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL UNIQUE,
	catalog_id TEXT NOT NULL,
	variation_id TEXT NOT NULL,
	pulled_at INTEGER NOT NULL,       -- s
	last_checked_at INTEGER NOT NULL, -- s
	FOREIGN KEY (resource_id) REFERENCES resources(id) ON DELETE CASCADE,
	FOREIGN KEY (catalog_id) REFERENCES catalogs(id) ON DELETE CASCADE,
	FOREIGN KEY (variation_id) REFERENCES variations(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	path TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at INTEGER NOT NULL,      -- s
	UNIQUE (workspace_id, path),
	FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	folder_path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at INTEGER NOT NULL,      -- ms
	updated_at INTEGER NOT NULL,      -- ms
	FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS plan_phases (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	order_index INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS plan_milestones (
	id TEXT PRIMARY KEY,
	phase_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	order_index INTEGER NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (phase_id) REFERENCES plan_phases(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS plan_documents (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	phase_id TEXT,
	file_path TEXT NOT NULL,
	file_name TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (plan_id, file_path),
	FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE,
	FOREIGN KEY (phase_id) REFERENCES plan_phases(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS plan_links (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL,
	linked_plan_path TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (plan_id, linked_plan_path),
	FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS walkthroughs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'not_started',
	complexity TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS walkthrough_takeaways (
	id TEXT PRIMARY KEY,
	walkthrough_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (walkthrough_id) REFERENCES walkthroughs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS walkthrough_notes (
	id TEXT PRIMARY KEY,
	walkthrough_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (walkthrough_id) REFERENCES walkthroughs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	git_commit_sha TEXT NOT NULL,
	git_branch TEXT,
	git_url TEXT,
	parent_checkpoint_id TEXT,
	checkpoint_type TEXT NOT NULL DEFAULT 'experiment',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_resources_project ON resources(project_id, is_deleted);
CREATE INDEX IF NOT EXISTS idx_catalogs_workspace ON catalogs(workspace_id);
CREATE INDEX IF NOT EXISTS idx_variations_catalog ON variations(catalog_id, published_at);
CREATE INDEX IF NOT EXISTS idx_variations_hash ON variations(catalog_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_subscriptions_variation ON subscriptions(variation_id);
CREATE INDEX IF NOT EXISTS idx_plans_project ON plans(project_id);
CREATE INDEX IF NOT EXISTS idx_phases_plan ON plan_phases(plan_id, order_index);
CREATE INDEX IF NOT EXISTS idx_milestones_phase ON plan_milestones(phase_id, order_index);
CREATE INDEX IF NOT EXISTS idx_walkthroughs_project ON walkthroughs(project_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project_id);
`

// NewID returns a fresh surrogate id.
func NewID() string {
	return uuid.NewString()
}

func (s *Store) nowSeconds() int64 { return s.now().Unix() }
func (s *Store) nowMillis() int64  { return s.now().UnixMilli() }

// notFound converts sql.ErrNoRows into the shared NotFound kind.
func notFound(err error, kind, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(kind, key)
	}
	return fmt.Errorf("failed to load %s %q: %w", kind, key, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
