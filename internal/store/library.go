package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bluekit-app/bluekit/internal/artifact"
)

// --- workspaces ---

// UpsertWorkspace returns the workspace for owner/repo, creating it when
// missing. A non-empty name renames an existing workspace.
func (s *Store) UpsertWorkspace(ctx context.Context, owner, repo, name string) (*Workspace, error) {
	var ws *Workspace
	err := s.WithTx(ctx, func(tx *Store) error {
		existing, err := tx.GetWorkspaceByRepo(ctx, owner, repo)
		if err == nil {
			if name != "" && name != existing.Name {
				existing.Name = name
				existing.UpdatedAt = tx.nowSeconds()
				if _, err := tx.q.ExecContext(ctx,
					`UPDATE workspaces SET name = ?, updated_at = ? WHERE id = ?`,
					existing.Name, existing.UpdatedAt, existing.ID); err != nil {
					return fmt.Errorf("failed to rename workspace %s/%s: %w", owner, repo, err)
				}
			}
			ws = existing
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		if name == "" {
			name = repo
		}
		now := tx.nowSeconds()
		ws = &Workspace{ID: NewID(), Owner: owner, Repo: repo, Name: name, CreatedAt: now, UpdatedAt: now}
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO workspaces (id, owner, repo, name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ws.ID, ws.Owner, ws.Repo, ws.Name, ws.CreatedAt, ws.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create workspace %s/%s: %w", owner, repo, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

const workspaceColumns = `id, owner, repo, name, created_at, updated_at`

// GetWorkspace loads a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var w Workspace
	err := s.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id).
		Scan(&w.ID, &w.Owner, &w.Repo, &w.Name, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "workspace", id)
	}
	return &w, nil
}

// GetWorkspaceByRepo loads a workspace by owner and repo.
func (s *Store) GetWorkspaceByRepo(ctx context.Context, owner, repo string) (*Workspace, error) {
	var w Workspace
	err := s.q.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces WHERE owner = ? AND repo = ?`, owner, repo).
		Scan(&w.ID, &w.Owner, &w.Repo, &w.Name, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "workspace", owner+"/"+repo)
	}
	return &w, nil
}

// ListWorkspaces returns every workspace ordered by name.
func (s *Store) ListWorkspaces(ctx context.Context) ([]*Workspace, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.Owner, &w.Repo, &w.Name, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// DeleteWorkspace removes a workspace with its catalogs, variations,
// subscriptions and folders.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace %s: %w", id, err)
	}
	return requireRow(res, "workspace", id)
}

// --- catalogs ---

const catalogColumns = `id, workspace_id, remote_path, name, description, tags, artifact_type,
	folder, created_at, updated_at`

// InsertCatalog inserts a catalog with a new id.
func (s *Store) InsertCatalog(ctx context.Context, c *Catalog) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	now := s.nowSeconds()
	c.CreatedAt = now
	c.UpdatedAt = now

	tags, err := encodeTags(c.Tags)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO catalogs (`+catalogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.WorkspaceID, c.RemotePath, c.Name, c.Description, tags, string(c.ArtifactType),
		c.Folder, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert catalog %s: %w", c.RemotePath, err)
	}
	return nil
}

// UpdateCatalogMetadata rewrites name, description, tags and artifact type.
func (s *Store) UpdateCatalogMetadata(ctx context.Context, c *Catalog) error {
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return err
	}
	c.UpdatedAt = s.nowSeconds()
	res, err := s.q.ExecContext(ctx, `
		UPDATE catalogs SET name = ?, description = ?, tags = ?, artifact_type = ?, updated_at = ?
		WHERE id = ?
	`, c.Name, c.Description, tags, string(c.ArtifactType), c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update catalog %s: %w", c.ID, err)
	}
	return requireRow(res, "catalog", c.ID)
}

// UpdateCatalogLocation moves a catalog to a new remote path and folder.
func (s *Store) UpdateCatalogLocation(ctx context.Context, id, remotePath, folder string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE catalogs SET remote_path = ?, folder = ?, updated_at = ? WHERE id = ?`,
		remotePath, folder, s.nowSeconds(), id)
	if err != nil {
		return fmt.Errorf("failed to move catalog %s: %w", id, err)
	}
	return requireRow(res, "catalog", id)
}

// GetCatalog loads a catalog by id.
func (s *Store) GetCatalog(ctx context.Context, id string) (*Catalog, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalogs WHERE id = ?`, id)
	c, err := scanCatalog(row)
	if err != nil {
		return nil, notFound(err, "catalog", id)
	}
	return c, nil
}

// GetCatalogByPath loads a catalog by (workspace, remote path).
func (s *Store) GetCatalogByPath(ctx context.Context, workspaceID, remotePath string) (*Catalog, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalogs WHERE workspace_id = ? AND remote_path = ?`,
		workspaceID, remotePath)
	c, err := scanCatalog(row)
	if err != nil {
		return nil, notFound(err, "catalog", remotePath)
	}
	return c, nil
}

// ListCatalogs returns a workspace's catalogs ordered by remote path.
func (s *Store) ListCatalogs(ctx context.Context, workspaceID string) ([]*Catalog, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+catalogColumns+` FROM catalogs WHERE workspace_id = ? ORDER BY remote_path`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}
	defer rows.Close()

	var out []*Catalog
	for rows.Next() {
		c, err := scanCatalog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCatalog hard-deletes a catalog; its variations and subscriptions
// cascade.
func (s *Store) DeleteCatalog(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM catalogs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete catalog %s: %w", id, err)
	}
	return requireRow(res, "catalog", id)
}

func scanCatalog(row rowScanner) (*Catalog, error) {
	var (
		c    Catalog
		tags string
		typ  string
	)
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.RemotePath, &c.Name, &c.Description, &tags,
		&typ, &c.Folder, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ArtifactType = artifact.Type(typ)
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
			return nil, fmt.Errorf("invalid tags on catalog %s: %w", c.ID, err)
		}
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &c, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}

// --- variations ---

const variationColumns = `id, catalog_id, remote_path, content_hash, remote_sha, publisher,
	version_tag, published_at, created_at, updated_at`

// InsertVariation inserts a variation with a new id. PublishedAt defaults
// to now.
func (s *Store) InsertVariation(ctx context.Context, v *Variation) error {
	if v.ID == "" {
		v.ID = NewID()
	}
	now := s.nowSeconds()
	if v.PublishedAt == 0 {
		v.PublishedAt = now
	}
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO variations (`+variationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.CatalogID, v.RemotePath, v.ContentHash, v.RemoteSHA, v.Publisher, v.VersionTag,
		v.PublishedAt, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert variation for catalog %s: %w", v.CatalogID, err)
	}
	return nil
}

// OverwriteVariation republishes into an existing variation row: content
// hash, remote sha, publisher and remote path are replaced and
// published_at advances. An empty version tag keeps the stored one.
func (s *Store) OverwriteVariation(ctx context.Context, v *Variation) error {
	now := s.nowSeconds()
	v.PublishedAt = now
	v.UpdatedAt = now
	res, err := s.q.ExecContext(ctx, `
		UPDATE variations
		SET remote_path = ?, content_hash = ?, remote_sha = ?, publisher = ?,
			version_tag = CASE WHEN ? = '' THEN version_tag ELSE ? END,
			published_at = ?, updated_at = ?
		WHERE id = ?
	`, v.RemotePath, v.ContentHash, v.RemoteSHA, v.Publisher, v.VersionTag, v.VersionTag,
		v.PublishedAt, v.UpdatedAt, v.ID)
	if err != nil {
		return fmt.Errorf("failed to overwrite variation %s: %w", v.ID, err)
	}
	return requireRow(res, "variation", v.ID)
}

// UpdateVariationLocation records a variation's new remote path and sha
// after a move.
func (s *Store) UpdateVariationLocation(ctx context.Context, id, remotePath, remoteSHA string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE variations SET remote_path = ?, remote_sha = ?, updated_at = ? WHERE id = ?`,
		remotePath, remoteSHA, s.nowSeconds(), id)
	if err != nil {
		return fmt.Errorf("failed to move variation %s: %w", id, err)
	}
	return requireRow(res, "variation", id)
}

// GetVariation loads a variation by id.
func (s *Store) GetVariation(ctx context.Context, id string) (*Variation, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+variationColumns+` FROM variations WHERE id = ?`, id)
	v, err := scanVariation(row)
	if err != nil {
		return nil, notFound(err, "variation", id)
	}
	return v, nil
}

// ListVariations returns a catalog's variations, newest first.
func (s *Store) ListVariations(ctx context.Context, catalogID string) ([]*Variation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+variationColumns+` FROM variations
		WHERE catalog_id = ?
		ORDER BY published_at DESC, created_at DESC, rowid DESC
	`, catalogID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variations: %w", err)
	}
	defer rows.Close()

	var out []*Variation
	for rows.Next() {
		v, err := scanVariation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LatestVariation returns the most recently published variation of a
// catalog.
func (s *Store) LatestVariation(ctx context.Context, catalogID string) (*Variation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+variationColumns+` FROM variations
		WHERE catalog_id = ?
		ORDER BY published_at DESC, created_at DESC, rowid DESC
		LIMIT 1
	`, catalogID)
	v, err := scanVariation(row)
	if err != nil {
		return nil, notFound(err, "variation", "latest of "+catalogID)
	}
	return v, nil
}

// FindVariationByHash returns the catalog's variation with the given
// content hash.
func (s *Store) FindVariationByHash(ctx context.Context, catalogID, hash string) (*Variation, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+variationColumns+` FROM variations
		WHERE catalog_id = ? AND content_hash = ?
		ORDER BY published_at DESC
		LIMIT 1
	`, catalogID, hash)
	v, err := scanVariation(row)
	if err != nil {
		return nil, notFound(err, "variation", hash)
	}
	return v, nil
}

func scanVariation(row rowScanner) (*Variation, error) {
	var v Variation
	if err := row.Scan(&v.ID, &v.CatalogID, &v.RemotePath, &v.ContentHash, &v.RemoteSHA,
		&v.Publisher, &v.VersionTag, &v.PublishedAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// --- subscriptions ---

const subscriptionColumns = `id, resource_id, catalog_id, variation_id, pulled_at, last_checked_at`

// UpsertSubscription points the resource's subscription at a variation and
// touches pulled_at and last_checked_at.
func (s *Store) UpsertSubscription(ctx context.Context, resourceID, catalogID, variationID string) (*Subscription, error) {
	now := s.nowSeconds()
	sub := &Subscription{
		ID:            NewID(),
		ResourceID:    resourceID,
		CatalogID:     catalogID,
		VariationID:   variationID,
		PulledAt:      now,
		LastCheckedAt: now,
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			catalog_id = excluded.catalog_id,
			variation_id = excluded.variation_id,
			pulled_at = excluded.pulled_at,
			last_checked_at = excluded.last_checked_at
	`, sub.ID, sub.ResourceID, sub.CatalogID, sub.VariationID, sub.PulledAt, sub.LastCheckedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription for resource %s: %w", resourceID, err)
	}
	return s.GetSubscriptionByResource(ctx, resourceID)
}

// GetSubscriptionByResource loads the subscription of a resource.
func (s *Store) GetSubscriptionByResource(ctx context.Context, resourceID string) (*Subscription, error) {
	var sub Subscription
	err := s.q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE resource_id = ?`, resourceID).
		Scan(&sub.ID, &sub.ResourceID, &sub.CatalogID, &sub.VariationID, &sub.PulledAt, &sub.LastCheckedAt)
	if err != nil {
		return nil, notFound(err, "subscription", resourceID)
	}
	return &sub, nil
}

// TouchSubscription records an update check.
func (s *Store) TouchSubscription(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE subscriptions SET last_checked_at = ? WHERE id = ?`, s.nowSeconds(), id)
	if err != nil {
		return fmt.Errorf("failed to touch subscription %s: %w", id, err)
	}
	return requireRow(res, "subscription", id)
}

// --- folders ---

// UpsertFolder records a remote folder.
func (s *Store) UpsertFolder(ctx context.Context, workspaceID, path, name string) (*Folder, error) {
	f := &Folder{ID: NewID(), WorkspaceID: workspaceID, Path: path, Name: name, CreatedAt: s.nowSeconds()}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO folders (id, workspace_id, path, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, path) DO UPDATE SET name = excluded.name
	`, f.ID, f.WorkspaceID, f.Path, f.Name, f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert folder %s: %w", path, err)
	}
	err = s.q.QueryRowContext(ctx,
		`SELECT id, created_at FROM folders WHERE workspace_id = ? AND path = ?`, workspaceID, path).
		Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to reload folder %s: %w", path, err)
	}
	return f, nil
}

// DeleteFolder forgets a remote folder. Unknown folders are ignored.
func (s *Store) DeleteFolder(ctx context.Context, workspaceID, path string) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM folders WHERE workspace_id = ? AND path = ?`, workspaceID, path); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", path, err)
	}
	return nil
}

// ListFolders returns a workspace's folders ordered by path.
func (s *Store) ListFolders(ctx context.Context, workspaceID string) ([]*Folder, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, workspace_id, path, name, created_at FROM folders WHERE workspace_id = ? ORDER BY path`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var out []*Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.WorkspaceID, &f.Path, &f.Name, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
