package library

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/github"
	"github.com/bluekit-app/bluekit/internal/store"
)

// SyncReport summarizes a workspace crawl. Succeeded holds the remote
// paths that were reconciled; Failed holds the ones that were not.
type SyncReport struct {
	BatchReport

	CatalogsCreated   int      `json:"catalogs_created"`
	VariationsCreated int      `json:"variations_created"`
	Folders           []string `json:"folders"`
}

// SyncWorkspaceCatalog crawls the workspace's artifact directories and
// records every remote artifact as a catalog with a variation per
// distinct content hash.
//
// Directories crawled: <subdir> and .bluekit/<subdir> at the root, plus
// <folder>/<subdir> for every folder holding a sentinel. A file that
// cannot be read or has no front-matter type fails on its own; the rest
// of the crawl continues, unless the failure is an authentication,
// permission or quota error, which ends the crawl. The returned error
// joins the per-file failures and is nil when every file synced.
//
// Catalog metadata is populated on creation only. Running the sync again
// against an unchanged remote writes nothing.
func (s *Service) SyncWorkspaceCatalog(ctx context.Context, workspaceID string) (*SyncReport, error) {
	ws, err := s.workspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	folders, err := s.syncFolders(ctx, ws)
	if err != nil {
		return nil, err
	}
	report := &SyncReport{BatchReport: newReport(), Folders: []string{}}
	for _, f := range folders {
		report.Folders = append(report.Folders, f.Path)
	}

	type crawlRoot struct {
		dir    string
		folder string
	}
	var roots []crawlRoot
	for _, sub := range artifact.RemoteSubdirs {
		roots = append(roots,
			crawlRoot{dir: sub},
			crawlRoot{dir: path.Join(artifact.DirName, sub)})
		for _, f := range folders {
			roots = append(roots, crawlRoot{dir: path.Join(f.Path, sub), folder: f.Path})
		}
	}

crawl:
	for _, root := range roots {
		entries, err := s.remote.ListDirectory(ctx, ws.Owner, ws.Repo, root.dir)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			report.fail(root.dir, err)
			if stopsCrawl(err) {
				s.logger.Printf("WARNING: Stopping sync of %s at %s: %v", ws.FullName(), root.dir, err)
				break
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !artifact.IsArtifactFile(entry.Name) {
				continue
			}
			if err := s.syncEntry(ctx, ws, entry, root.folder, report); err != nil {
				s.logger.Printf("WARNING: Failed to sync %s:%s: %v", ws.FullName(), entry.Path, err)
				report.fail(entry.Path, err)
				if stopsCrawl(err) {
					break crawl
				}
				continue
			}
			report.ok(entry.Path)
		}
	}

	s.logger.Printf("Synced %s: %d files, %d new catalogs, %d new variations, %d failures",
		ws.FullName(), len(report.Succeeded), report.CatalogsCreated, report.VariationsCreated, len(report.Failed))
	return report, report.Err()
}

// stopsCrawl reports whether err will repeat for every remaining directory
// until the user or the quota recovers.
func stopsCrawl(err error) bool {
	return errors.Is(err, apperr.ErrUnauthenticated) ||
		errors.Is(err, apperr.ErrForbidden) ||
		errors.Is(err, apperr.ErrRateLimited)
}

func (s *Service) syncEntry(ctx context.Context, ws *store.Workspace, entry github.Entry, folder string, report *SyncReport) error {
	file, err := s.remote.GetFile(ctx, ws.Owner, ws.Repo, entry.Path)
	if err != nil {
		return err
	}
	hash := artifact.ContentHash(file.Content)

	fm, err := artifact.ParseFrontMatter(file.Content)
	if err != nil {
		return err
	}
	if fm.Type() == "" {
		return apperr.Validation(entry.Path, "type", "front-matter type is required")
	}

	sha := entry.SHA
	if sha == "" {
		sha = file.SHA
	}

	var catalogCreated, variationCreated bool
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		catalog, err := tx.GetCatalogByPath(ctx, ws.ID, entry.Path)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			catalog = &store.Catalog{
				WorkspaceID:  ws.ID,
				RemotePath:   entry.Path,
				Name:         artifact.Title(fm, file.Content, entry.Name),
				Description:  fm.Description(),
				Tags:         fm.Tags(),
				ArtifactType: fm.Type(),
				Folder:       folder,
			}
			if err := tx.InsertCatalog(ctx, catalog); err != nil {
				return err
			}
			catalogCreated = true
		case err != nil:
			return err
		}

		_, err = tx.FindVariationByHash(ctx, catalog.ID, hash)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if err := tx.InsertVariation(ctx, &store.Variation{
			CatalogID:   catalog.ID,
			RemotePath:  entry.Path,
			ContentHash: hash,
			RemoteSHA:   sha,
		}); err != nil {
			return err
		}
		variationCreated = true
		return nil
	})
	if err != nil {
		return err
	}
	if catalogCreated {
		report.CatalogsCreated++
	}
	if variationCreated {
		report.VariationsCreated++
	}
	return nil
}

// DeleteCatalogs removes catalogs from the remote and, regardless of the
// remote outcome, from the store along with their variations and
// subscriptions. Remote failures are reported as warnings.
func (s *Service) DeleteCatalogs(ctx context.Context, ids []string) BatchReport {
	report := newReport()
	for _, id := range ids {
		if err := s.deleteCatalog(ctx, id, &report); err != nil {
			s.logger.Printf("WARNING: Failed to delete catalog %s: %v", id, err)
			report.fail(id, err)
			continue
		}
		report.ok(id)
	}
	return report
}

// deleteCatalog deletes every remote file the catalog owns, then the
// catalog row. Only store failures are returned.
func (s *Service) deleteCatalog(ctx context.Context, id string, report *BatchReport) error {
	catalog, err := s.store.GetCatalog(ctx, id)
	if err != nil {
		return err
	}
	ws, err := s.workspace(ctx, catalog.WorkspaceID)
	if err != nil {
		return err
	}
	variations, err := s.store.ListVariations(ctx, catalog.ID)
	if err != nil {
		return err
	}

	// Known blob sha per remote path, newest variation first.
	known := map[string]string{}
	paths := []string{catalog.RemotePath}
	for _, v := range variations {
		if _, seen := known[v.RemotePath]; !seen {
			known[v.RemotePath] = v.RemoteSHA
			if v.RemotePath != catalog.RemotePath {
				paths = append(paths, v.RemotePath)
			}
		}
	}

	if user, err := s.publisher(ctx); err != nil {
		report.warn(id, err)
	} else {
		message := fmt.Sprintf("[BlueKit] Delete catalog: %s by %s", catalog.Name, user)
		for _, p := range paths {
			if err := s.deleteRemote(ctx, ws, p, known[p], message); err != nil {
				s.logger.Printf("WARNING: Failed to delete %s:%s: %v", ws.FullName(), p, err)
				report.warn(id, err)
			}
		}
	}

	if err := s.store.DeleteCatalog(ctx, catalog.ID); err != nil {
		return err
	}
	s.logger.Printf("Deleted catalog %s (%s:%s)", catalog.ID, ws.FullName(), catalog.RemotePath)
	return nil
}

// deleteRemote deletes a remote file. A stale or unknown sha is refreshed
// with a probe; a file that is already gone counts as deleted.
func (s *Service) deleteRemote(ctx context.Context, ws *store.Workspace, remotePath, sha, message string) error {
	if sha != "" {
		_, err := s.remote.DeleteFile(ctx, ws.Owner, ws.Repo, remotePath, message, sha)
		if err == nil || errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return err
		}
	}

	current, ok, err := s.remote.GetFileSHA(ctx, ws.Owner, ws.Repo, remotePath)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = s.remote.DeleteFile(ctx, ws.Owner, ws.Repo, remotePath, message, current)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}
