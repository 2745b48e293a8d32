package library

import (
	"context"
	"errors"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/store"
)

// CatalogWithVariations pairs a catalog with its variations, newest first.
type CatalogWithVariations struct {
	Catalog    *store.Catalog     `json:"catalog"`
	Variations []*store.Variation `json:"variations"`
}

// ListWorkspaceCatalogs returns the stored catalogs of a workspace.
func (s *Service) ListWorkspaceCatalogs(ctx context.Context, workspaceID string) ([]CatalogWithVariations, error) {
	if _, err := s.workspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	catalogs, err := s.store.ListCatalogs(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]CatalogWithVariations, 0, len(catalogs))
	for _, c := range catalogs {
		variations, err := s.store.ListVariations(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if variations == nil {
			variations = []*store.Variation{}
		}
		out = append(out, CatalogWithVariations{Catalog: c, Variations: variations})
	}
	return out, nil
}

// ListFolders reads the workspace folders from the remote and mirrors
// them into the store.
func (s *Service) ListFolders(ctx context.Context, workspaceID string) ([]*store.Folder, error) {
	ws, err := s.workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.syncFolders(ctx, ws)
}

// syncFolders finds root directories holding a sentinel, records them and
// forgets stored folders that no longer exist remotely.
func (s *Service) syncFolders(ctx context.Context, ws *store.Workspace) ([]*store.Folder, error) {
	entries, err := s.remote.ListDirectory(ctx, ws.Owner, ws.Repo, "")
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			entries = nil
		} else {
			return nil, err
		}
	}

	reserved := map[string]bool{artifact.DirName: true}
	for _, sub := range artifact.RemoteSubdirs {
		reserved[sub] = true
	}

	var found []string
	for _, e := range entries {
		if !e.IsDir() || reserved[e.Name] {
			continue
		}
		children, err := s.remote.ListDirectory(ctx, ws.Owner, ws.Repo, e.Path)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, c := range children {
			if !c.IsDir() && c.Name == artifact.FolderSentinel {
				found = append(found, e.Path)
				break
			}
		}
	}

	stored, err := s.store.ListFolders(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(stored))
	for _, f := range stored {
		names[f.Path] = f.Name
	}

	folders := make([]*store.Folder, 0, len(found))
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		live := make(map[string]bool, len(found))
		for _, p := range found {
			live[p] = true
			name := names[p]
			if name == "" {
				name = p
			}
			f, err := tx.UpsertFolder(ctx, ws.ID, p, name)
			if err != nil {
				return err
			}
			folders = append(folders, f)
		}
		for _, f := range stored {
			if live[f.Path] {
				continue
			}
			if err := tx.DeleteFolder(ctx, ws.ID, f.Path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}
