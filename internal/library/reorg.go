package library

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/store"
)

// ChangeKind names a reorganization edit.
type ChangeKind string

const (
	FolderCreated            ChangeKind = "folder_created"
	FolderDeleted            ChangeKind = "folder_deleted"
	CatalogMovedToFolder     ChangeKind = "catalog_moved_to_folder"
	CatalogRemovedFromFolder ChangeKind = "catalog_removed_from_folder"
	CatalogDeleted           ChangeKind = "catalog_deleted"
)

// Change is one edit of a reorganization change-set.
type Change struct {
	Kind ChangeKind `json:"type"`

	// Folder is the folder name for folder edits and the destination of
	// a move.
	Folder string `json:"folder,omitempty"`

	CatalogID string `json:"catalog_id,omitempty"`
}

// itemID identifies the change in a report.
func (c Change) itemID() string {
	if c.CatalogID != "" {
		return string(c.Kind) + ":" + c.CatalogID
	}
	return string(c.Kind) + ":" + c.Folder
}

// sentinelContent is the body of a folder sentinel file.
const sentinelContent = "# BlueKit workspace folder\n"

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	folderUnsafe  = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// SanitizeFolderName turns a user-entered folder name into a remote
// directory name: trimmed, whitespace runs collapsed to a dash, and only
// [A-Za-z0-9_-] kept.
func SanitizeFolderName(name string) (string, error) {
	s := strings.TrimSpace(name)
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = folderUnsafe.ReplaceAllString(s, "")
	if s == "" {
		return "", apperr.Validation(name, "folder", "folder name has no usable characters")
	}
	return s, nil
}

// ApplyChanges applies a change-set to a workspace in order. Each change
// succeeds or fails on its own; a failed change can be resubmitted.
func (s *Service) ApplyChanges(ctx context.Context, workspaceID string, changes []Change) (BatchReport, error) {
	report := newReport()
	ws, err := s.workspace(ctx, workspaceID)
	if err != nil {
		return report, err
	}

	for _, c := range changes {
		id := c.itemID()
		var err error
		switch c.Kind {
		case FolderCreated:
			err = s.createFolder(ctx, ws, c.Folder)
		case FolderDeleted:
			err = s.deleteFolder(ctx, ws, c.Folder)
		case CatalogMovedToFolder:
			var folder string
			folder, err = SanitizeFolderName(c.Folder)
			if err == nil {
				err = s.moveCatalog(ctx, ws, c.CatalogID, folder)
			}
		case CatalogRemovedFromFolder:
			err = s.moveCatalog(ctx, ws, c.CatalogID, "")
		case CatalogDeleted:
			err = s.deleteCatalog(ctx, c.CatalogID, &report)
		default:
			err = apperr.Validation(id, "type", fmt.Sprintf("unknown change type %q", c.Kind))
		}
		if err != nil {
			s.logger.Printf("WARNING: Change %s on %s failed: %v", id, ws.FullName(), err)
			report.fail(id, err)
			continue
		}
		report.ok(id)
	}
	return report, nil
}

func (s *Service) createFolder(ctx context.Context, ws *store.Workspace, name string) error {
	folder, err := SanitizeFolderName(name)
	if err != nil {
		return err
	}
	user, err := s.publisher(ctx)
	if err != nil {
		return err
	}

	sentinel := path.Join(folder, artifact.FolderSentinel)
	sha, _, err := s.remote.GetFileSHA(ctx, ws.Owner, ws.Repo, sentinel)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("[BlueKit] Create folder: %s by %s", folder, user)
	if _, err := s.remote.PutFile(ctx, ws.Owner, ws.Repo, sentinel, []byte(sentinelContent), message, sha); err != nil {
		return err
	}
	_, err = s.store.UpsertFolder(ctx, ws.ID, folder, strings.TrimSpace(name))
	return err
}

// deleteFolder removes a folder sentinel. A folder that still holds
// catalogs is refused; move them out first.
func (s *Service) deleteFolder(ctx context.Context, ws *store.Workspace, name string) error {
	folder, err := SanitizeFolderName(name)
	if err != nil {
		return err
	}
	catalogs, err := s.store.ListCatalogs(ctx, ws.ID)
	if err != nil {
		return err
	}
	for _, c := range catalogs {
		if c.Folder == folder {
			return fmt.Errorf("folder %s still holds catalog %s: %w", folder, c.RemotePath, apperr.ErrConflict)
		}
	}

	user, err := s.publisher(ctx)
	if err != nil {
		return err
	}
	sentinel := path.Join(folder, artifact.FolderSentinel)
	message := fmt.Sprintf("[BlueKit] Delete folder: %s by %s", folder, user)
	if err := s.deleteRemote(ctx, ws, sentinel, "", message); err != nil {
		return err
	}
	return s.store.DeleteFolder(ctx, ws.ID, folder)
}

// moveCatalog relocates a catalog and every variation file under folder,
// or back to the workspace root when folder is empty.
//
// Each file keeps its own artifact-type segment. Files move one at a
// time, and the store follows each completed file, so an interrupted move
// is resumed by resubmitting the change.
func (s *Service) moveCatalog(ctx context.Context, ws *store.Workspace, catalogID, folder string) error {
	catalog, err := s.store.GetCatalog(ctx, catalogID)
	if err != nil {
		return err
	}
	if catalog.WorkspaceID != ws.ID {
		return apperr.NotFound("catalog", catalogID)
	}
	variations, err := s.store.ListVariations(ctx, catalog.ID)
	if err != nil {
		return err
	}
	user, err := s.publisher(ctx)
	if err != nil {
		return err
	}

	from := catalog.Folder
	if from == "" {
		from = "root"
	}
	var message string
	if folder == "" {
		message = fmt.Sprintf("[BlueKit] Remove catalog from folder: %s by %s", from, user)
	} else {
		message = fmt.Sprintf("[BlueKit] Move catalog to folder: %s → %s by %s", from, folder, user)
	}

	sources := []string{catalog.RemotePath}
	seen := map[string]bool{catalog.RemotePath: true}
	for _, v := range variations {
		if !seen[v.RemotePath] {
			seen[v.RemotePath] = true
			sources = append(sources, v.RemotePath)
		}
	}

	for _, src := range sources {
		dst := movedPath(src, folder, catalog.ArtifactType)
		if src == dst {
			continue
		}
		sha, err := s.moveFile(ctx, ws, src, dst, message)
		if err != nil {
			return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
		}

		err = s.store.WithTx(ctx, func(tx *store.Store) error {
			for _, v := range variations {
				if v.RemotePath != src {
					continue
				}
				newSHA := v.RemoteSHA
				if sha != "" {
					newSHA = sha
				}
				if err := tx.UpdateVariationLocation(ctx, v.ID, dst, newSHA); err != nil {
					return err
				}
			}
			if src == catalog.RemotePath {
				return tx.UpdateCatalogLocation(ctx, catalog.ID, dst, folder)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("moved %s to %s but failed to record it: %w", src, dst, err)
		}
		s.logger.Printf("Moved %s:%s to %s", ws.FullName(), src, dst)
	}

	if catalog.Folder != folder && movedPath(catalog.RemotePath, folder, catalog.ArtifactType) == catalog.RemotePath {
		return s.store.UpdateCatalogLocation(ctx, catalog.ID, catalog.RemotePath, folder)
	}
	return nil
}

// movedPath returns where remotePath lands when moved under folder.
func movedPath(remotePath, folder string, fallback artifact.Type) string {
	_, segment, ok := artifact.TypeSegment(remotePath)
	if !ok {
		segment = fallback.Subdir()
	}
	return path.Join(folder, segment, path.Base(remotePath))
}

// moveFile copies src to dst and deletes src, returning the destination
// blob sha. A source that is already gone while the destination exists
// counts as an earlier, completed move.
func (s *Service) moveFile(ctx context.Context, ws *store.Workspace, src, dst, message string) (string, error) {
	file, err := s.remote.GetFile(ctx, ws.Owner, ws.Repo, src)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}
		sha, ok, probeErr := s.remote.GetFileSHA(ctx, ws.Owner, ws.Repo, dst)
		if probeErr != nil {
			return "", probeErr
		}
		if !ok {
			return "", err
		}
		return sha, nil
	}

	dstSHA, _, err := s.remote.GetFileSHA(ctx, ws.Owner, ws.Repo, dst)
	if err != nil {
		return "", err
	}
	written, err := s.remote.PutFile(ctx, ws.Owner, ws.Repo, dst, file.Content, message, dstSHA)
	if err != nil {
		return "", err
	}
	if _, err := s.remote.DeleteFile(ctx, ws.Owner, ws.Repo, src, message, file.SHA); err != nil {
		return "", err
	}
	return written.ContentSHA, nil
}
