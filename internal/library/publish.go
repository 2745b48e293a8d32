package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/store"
)

// Probe outcomes.
const (
	NoCatalogExists = "no_catalog_exists"
	CatalogExists   = "catalog_exists"
)

// PublishStatus is the result of probing where a resource would publish.
type PublishStatus struct {
	Status string `json:"status"`

	// Set when Status is NoCatalogExists.
	SuggestedName string `json:"suggested_name,omitempty"`

	RemotePath string `json:"remote_path"`

	// Set when Status is CatalogExists; variations newest first.
	Catalog    *store.Catalog     `json:"catalog,omitempty"`
	Variations []*store.Variation `json:"variations,omitempty"`
}

// CheckPublishStatus reports whether publishing the resource to the
// workspace would create a catalog or add to an existing one.
func (s *Service) CheckPublishStatus(ctx context.Context, resourceID, workspaceID string) (*PublishStatus, error) {
	res, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	ws, err := s.workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	remotePath := artifact.RemotePathFor(res.ArtifactType, res.FileName)
	catalog, err := s.store.GetCatalogByPath(ctx, ws.ID, remotePath)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		fm, _ := artifact.FrontMatterFromJSON(res.FrontMatter)
		return &PublishStatus{
			Status:        NoCatalogExists,
			SuggestedName: fm.DisplayName(artifact.Stem(res.FileName)),
			RemotePath:    remotePath,
		}, nil
	}

	variations, err := s.store.ListVariations(ctx, catalog.ID)
	if err != nil {
		return nil, err
	}
	if variations == nil {
		variations = []*store.Variation{}
	}
	return &PublishStatus{
		Status:     CatalogExists,
		RemotePath: remotePath,
		Catalog:    catalog,
		Variations: variations,
	}, nil
}

// PublishRequest asks to publish a resource to a workspace.
type PublishRequest struct {
	ResourceID  string `json:"resource_id"`
	WorkspaceID string `json:"workspace_id"`

	// OverwriteVariationID republishes into an existing variation instead
	// of adding a new one.
	OverwriteVariationID string `json:"overwrite_variation_id,omitempty"`

	VersionTag string `json:"version_tag,omitempty"`
}

// PublishResult describes a completed publish.
type PublishResult struct {
	Catalog        *store.Catalog   `json:"catalog"`
	Variation      *store.Variation `json:"variation"`
	CatalogCreated bool             `json:"catalog_created"`
	RemoteCreated  bool             `json:"remote_created"`
}

// PublishResource pushes the resource's current content to the workspace
// and records the catalog and variation.
//
// The file must still hash to the stored resource hash; otherwise the
// publish fails with ErrHashMismatch and nothing is written. A failure
// after the remote write leaves the remote ahead of the store until the
// next sync.
func (s *Service) PublishResource(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	res, err := s.store.GetResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if res.IsDeleted {
		return nil, apperr.NotFound("resource", res.RelativePath)
	}
	project, err := s.store.GetProject(ctx, res.ProjectID)
	if err != nil {
		return nil, err
	}
	ws, err := s.workspace(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}

	absPath := filepath.Join(project.Path, filepath.FromSlash(res.RelativePath))
	content, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("file", absPath)
		}
		return nil, fmt.Errorf("failed to read %s: %v: %w", absPath, err, apperr.ErrIO)
	}
	hash := artifact.ContentHash(content)
	if hash != res.ContentHash {
		return nil, fmt.Errorf("%s changed since last scan: %w", res.RelativePath, apperr.ErrHashMismatch)
	}

	fm, err := artifact.ParseFrontMatter(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", res.RelativePath, err)
	}
	if fm.Type() == "" {
		return nil, apperr.Validation(res.RelativePath, "type", "front-matter type is required to publish")
	}

	var overwrite *store.Variation
	if req.OverwriteVariationID != "" {
		overwrite, err = s.store.GetVariation(ctx, req.OverwriteVariationID)
		if err != nil {
			return nil, err
		}
	}

	// An overwrite targets the variation's catalog wherever it lives now,
	// which may be inside a folder.
	remotePath := artifact.RemotePathFor(res.ArtifactType, res.FileName)
	var target *store.Catalog
	if overwrite != nil {
		target, err = s.store.GetCatalog(ctx, overwrite.CatalogID)
		if err != nil {
			return nil, err
		}
		if target.WorkspaceID != ws.ID {
			return nil, apperr.Validation(req.OverwriteVariationID, "overwrite_variation_id",
				"variation belongs to another workspace")
		}
		if path.Base(target.RemotePath) != res.FileName {
			return nil, apperr.Validation(req.OverwriteVariationID, "overwrite_variation_id",
				fmt.Sprintf("variation belongs to catalog %s, not %s", target.RemotePath, res.FileName))
		}
		remotePath = target.RemotePath
	}

	user, err := s.publisher(ctx)
	if err != nil {
		return nil, err
	}

	sha, exists, err := s.remote.GetFileSHA(ctx, ws.Owner, ws.Repo, remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", remotePath, err)
	}

	displayName := fm.DisplayName(artifact.Stem(res.FileName))
	message := fmt.Sprintf("[BlueKit] Publish: %s by %s", displayName, user)
	written, err := s.remote.PutFile(ctx, ws.Owner, ws.Repo, remotePath, content, message, sha)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s: %w", remotePath, err)
	}

	result := &PublishResult{RemoteCreated: !exists}
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		var catalog *store.Catalog
		var err error
		if target != nil {
			catalog, err = tx.GetCatalog(ctx, target.ID)
		} else {
			catalog, err = tx.GetCatalogByPath(ctx, ws.ID, remotePath)
		}
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			catalog = &store.Catalog{
				WorkspaceID:  ws.ID,
				RemotePath:   remotePath,
				Name:         displayName,
				Description:  fm.Description(),
				Tags:         fm.Tags(),
				ArtifactType: fm.Type(),
			}
			if err := tx.InsertCatalog(ctx, catalog); err != nil {
				return err
			}
			result.CatalogCreated = true
		case err != nil:
			return err
		default:
			catalog.Name = displayName
			catalog.Description = fm.Description()
			catalog.Tags = fm.Tags()
			catalog.ArtifactType = fm.Type()
			if err := tx.UpdateCatalogMetadata(ctx, catalog); err != nil {
				return err
			}
		}
		result.Catalog = catalog

		if overwrite != nil {
			overwrite.RemotePath = remotePath
			overwrite.ContentHash = hash
			overwrite.RemoteSHA = written.ContentSHA
			overwrite.Publisher = user
			overwrite.VersionTag = req.VersionTag
			if err := tx.OverwriteVariation(ctx, overwrite); err != nil {
				return err
			}
			v, err := tx.GetVariation(ctx, overwrite.ID)
			if err != nil {
				return err
			}
			result.Variation = v
			return nil
		}

		v := &store.Variation{
			CatalogID:   catalog.ID,
			RemotePath:  remotePath,
			ContentHash: hash,
			RemoteSHA:   written.ContentSHA,
			Publisher:   user,
			VersionTag:  req.VersionTag,
		}
		if err := tx.InsertVariation(ctx, v); err != nil {
			return err
		}
		result.Variation = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("published %s but failed to record it (next sync reconciles): %w", remotePath, err)
	}

	s.logger.Printf("Published %s to %s:%s as %s", res.RelativePath, ws.FullName(), remotePath, result.Variation.ID)
	return result, nil
}
