package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bluekit-app/bluekit/internal/artifact"
)

const resourceColumns = `id, project_id, relative_path, file_name, artifact_type, content_hash,
	front_matter, last_modified_at, is_deleted, created_at, updated_at`

// InsertResource inserts a fresh resource row with a new id.
func (s *Store) InsertResource(ctx context.Context, r *Resource) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	now := s.nowSeconds()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO resources (`+resourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectID, r.RelativePath, r.FileName, string(r.ArtifactType), r.ContentHash,
		nullString(r.FrontMatter), r.LastModifiedAt, boolToInt(r.IsDeleted), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert resource %s: %w", r.RelativePath, err)
	}
	return nil
}

// UpdateResourceContent records a new observation of a resource's file and
// clears its soft-delete flag.
func (s *Store) UpdateResourceContent(ctx context.Context, r *Resource) error {
	r.UpdatedAt = s.nowSeconds()
	r.IsDeleted = false
	res, err := s.q.ExecContext(ctx, `
		UPDATE resources
		SET file_name = ?, artifact_type = ?, content_hash = ?, front_matter = ?,
			last_modified_at = ?, is_deleted = 0, updated_at = ?
		WHERE id = ?
	`, r.FileName, string(r.ArtifactType), r.ContentHash, nullString(r.FrontMatter),
		r.LastModifiedAt, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update resource %s: %w", r.ID, err)
	}
	return requireRow(res, "resource", r.ID)
}

// UpsertResource inserts or updates the resource identified by
// (r.ProjectID, r.RelativePath). r.ID is set to the stored id.
func (s *Store) UpsertResource(ctx context.Context, r *Resource) error {
	return s.WithTx(ctx, func(tx *Store) error {
		existing, err := tx.GetResourceByPath(ctx, r.ProjectID, r.RelativePath)
		if err != nil {
			if isNotFound(err) {
				r.ID = ""
				return tx.InsertResource(ctx, r)
			}
			return err
		}
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
		return tx.UpdateResourceContent(ctx, r)
	})
}

// SoftDeleteResource flags a resource whose file is gone.
func (s *Store) SoftDeleteResource(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE resources SET is_deleted = 1, updated_at = ? WHERE id = ?`, s.nowSeconds(), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete resource %s: %w", id, err)
	}
	return requireRow(res, "resource", id)
}

// DeleteResource removes a resource row. Its subscription goes with it.
func (s *Store) DeleteResource(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete resource %s: %w", id, err)
	}
	return requireRow(res, "resource", id)
}

// GetResource loads a resource by id.
func (s *Store) GetResource(ctx context.Context, id string) (*Resource, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	r, err := scanResource(row)
	if err != nil {
		return nil, notFound(err, "resource", id)
	}
	return r, nil
}

// GetResourceByPath loads a resource by (project, relative path), deleted
// or not.
func (s *Store) GetResourceByPath(ctx context.Context, projectID, relPath string) (*Resource, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE project_id = ? AND relative_path = ?`,
		projectID, relPath)
	r, err := scanResource(row)
	if err != nil {
		return nil, notFound(err, "resource", projectID+":"+relPath)
	}
	return r, nil
}

// ListResourcesFilter narrows ListResources.
type ListResourcesFilter struct {
	ArtifactType   artifact.Type
	IncludeDeleted bool
}

// ListResources returns a project's resources ordered by relative path.
func (s *Store) ListResources(ctx context.Context, projectID string, filter ListResourcesFilter) ([]*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE project_id = ?`
	args := []any{projectID}
	if !filter.IncludeDeleted {
		query += ` AND is_deleted = 0`
	}
	if filter.ArtifactType != "" {
		query += ` AND artifact_type = ?`
		args = append(args, string(filter.ArtifactType))
	}
	query += ` ORDER BY relative_path`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanResource(row rowScanner) (*Resource, error) {
	var (
		r       Resource
		typ     string
		fm      sql.NullString
		deleted int
	)
	if err := row.Scan(&r.ID, &r.ProjectID, &r.RelativePath, &r.FileName, &typ, &r.ContentHash,
		&fm, &r.LastModifiedAt, &deleted, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ArtifactType = artifact.Type(typ)
	r.FrontMatter = fm.String
	r.IsDeleted = deleted != 0
	return &r, nil
}
