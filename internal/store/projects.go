package store

import (
	"context"
	"database/sql"
	"fmt"
)

const projectColumns = `id, name, path, description, git_url, git_branch, git_commit,
	created_at, updated_at, last_opened_at`

// CreateProject inserts a project. ID and timestamps are filled in when
// empty. A second project with the same path fails with a unique
// constraint error.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	now := s.nowMillis()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Path, p.Description,
		nullString(p.GitURL), nullString(p.GitBranch), nullString(p.GitCommit),
		p.CreatedAt, p.UpdatedAt, nullInt(p.LastOpenedAt))
	if err != nil {
		return fmt.Errorf("failed to create project %s: %w", p.Path, err)
	}
	return nil
}

// UpsertProjectByPath inserts the project or, when a project with the same
// path exists, updates its name, description and git metadata while
// keeping the existing id. p.ID is set to the stored id.
func (s *Store) UpsertProjectByPath(ctx context.Context, p *Project) error {
	return s.WithTx(ctx, func(tx *Store) error {
		existing, err := tx.GetProjectByPath(ctx, p.Path)
		if err != nil {
			if isNotFound(err) {
				return tx.CreateProject(ctx, p)
			}
			return err
		}
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		return tx.UpdateProject(ctx, p)
	})
}

// UpdateProject rewrites a project's mutable fields.
func (s *Store) UpdateProject(ctx context.Context, p *Project) error {
	p.UpdatedAt = s.nowMillis()
	res, err := s.q.ExecContext(ctx, `
		UPDATE projects
		SET name = ?, description = ?, git_url = ?, git_branch = ?, git_commit = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Description, nullString(p.GitURL), nullString(p.GitBranch),
		nullString(p.GitCommit), p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project %s: %w", p.ID, err)
	}
	return requireRow(res, "project", p.ID)
}

// TouchProject records that the project was opened.
func (s *Store) TouchProject(ctx context.Context, id string) error {
	now := s.nowMillis()
	res, err := s.q.ExecContext(ctx,
		`UPDATE projects SET last_opened_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("failed to touch project %s: %w", id, err)
	}
	return requireRow(res, "project", id)
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, notFound(err, "project", id)
	}
	return p, nil
}

// GetProjectByPath loads a project by its absolute path.
func (s *Store) GetProjectByPath(ctx context.Context, path string) (*Project, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE path = ?`, path)
	p, err := scanProject(row)
	if err != nil {
		return nil, notFound(err, "project", path)
	}
	return p, nil
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY name COLLATE NOCASE, path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes a project and everything pinned to it. Checkpoints
// are deleted explicitly before the row so the cascade holds even on a
// database opened without foreign key enforcement.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM checkpoints WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete checkpoints of project %s: %w", id, err)
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete project %s: %w", id, err)
		}
		return requireRow(res, "project", id)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var (
		p                      Project
		gitURL, branch, commit sql.NullString
		lastOpened             sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &p.Description, &gitURL, &branch, &commit,
		&p.CreatedAt, &p.UpdatedAt, &lastOpened); err != nil {
		return nil, err
	}
	p.GitURL = gitURL.String
	p.GitBranch = branch.String
	p.GitCommit = commit.String
	p.LastOpenedAt = intPtr(lastOpened)
	return &p, nil
}

func requireRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound(sql.ErrNoRows, kind, key)
	}
	return nil
}
