package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/store"
)

// PullRequest asks to materialize a variation into a project.
type PullRequest struct {
	VariationID string `json:"variation_id"`
	ProjectID   string `json:"project_id"`

	// TargetPath overrides the project-relative destination. By default
	// the file lands in .bluekit/<subdir>/<filename>.
	TargetPath string `json:"target_path,omitempty"`

	Overwrite bool `json:"overwrite,omitempty"`
}

// PullResult describes a completed pull.
type PullResult struct {
	Path         string              `json:"path"`
	Resource     *store.Resource     `json:"resource"`
	Subscription *store.Subscription `json:"subscription"`
}

// PullVariation writes a variation's remote content into a project and
// subscribes the resulting resource to it.
func (s *Service) PullVariation(ctx context.Context, req PullRequest) (*PullResult, error) {
	variation, err := s.store.GetVariation(ctx, req.VariationID)
	if err != nil {
		return nil, err
	}
	catalog, err := s.store.GetCatalog(ctx, variation.CatalogID)
	if err != nil {
		return nil, err
	}
	ws, err := s.workspace(ctx, catalog.WorkspaceID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	file, err := s.remote.GetFile(ctx, ws.Owner, ws.Repo, variation.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", variation.RemotePath, err)
	}
	hash := artifact.ContentHash(file.Content)
	if hash != variation.ContentHash {
		return nil, fmt.Errorf("%s no longer matches variation %s: %w",
			variation.RemotePath, variation.ID, apperr.ErrHashMismatch)
	}

	fm, err := artifact.ParseFrontMatter(file.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", variation.RemotePath, err)
	}
	typ := fm.Type()
	if typ == "" {
		typ = catalog.ArtifactType
	}

	relPath := req.TargetPath
	if relPath == "" {
		relPath = artifact.LocalRelPath(typ, path.Base(variation.RemotePath))
	}
	relPath = filepath.ToSlash(filepath.Clean(relPath))
	if filepath.IsAbs(relPath) || relPath == ".." || strings.HasPrefix(relPath, "../") {
		return nil, apperr.Validation(relPath, "target_path", "must stay inside the project")
	}
	absPath := filepath.Join(project.Path, filepath.FromSlash(relPath))

	if !req.Overwrite {
		if _, err := os.Stat(absPath); err == nil {
			return nil, fmt.Errorf("%s already exists: %w", absPath, apperr.ErrConflict)
		}
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %v: %w", filepath.Dir(absPath), err, apperr.ErrIO)
	}
	if err := os.WriteFile(absPath, file.Content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %v: %w", absPath, err, apperr.ErrIO)
	}

	fmJSON, err := fm.JSON()
	if err != nil {
		return nil, err
	}
	resource := &store.Resource{
		ProjectID:      project.ID,
		RelativePath:   relPath,
		FileName:       path.Base(relPath),
		ArtifactType:   artifact.TypeFromPath(relPath),
		ContentHash:    hash,
		FrontMatter:    fmJSON,
		LastModifiedAt: s.now().Unix(),
	}
	if info, err := os.Stat(absPath); err == nil {
		resource.LastModifiedAt = info.ModTime().Unix()
	}

	result := &PullResult{Path: absPath, Resource: resource}
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.UpsertResource(ctx, resource); err != nil {
			return err
		}
		sub, err := tx.UpsertSubscription(ctx, resource.ID, catalog.ID, variation.ID)
		if err != nil {
			return err
		}
		result.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pulled %s but failed to record it: %w", absPath, err)
	}

	s.logger.Printf("Pulled %s:%s into %s", ws.FullName(), variation.RemotePath, absPath)
	return result, nil
}

// fileHash hashes a file on disk. A missing file is NotFound.
func fileHash(absPath string) (string, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.NotFound("file", absPath)
		}
		return "", fmt.Errorf("failed to read %s: %v: %w", absPath, err, apperr.ErrIO)
	}
	return artifact.ContentHash(data), nil
}
