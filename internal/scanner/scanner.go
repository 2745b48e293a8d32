// Package scanner reconciles the artifact files under a project's .bluekit
// directory with the resource table of the catalog store.
//
// A scan reads every artifact file first, then applies all writes in one
// transaction: new files are inserted, files whose content hash changed
// are updated, and stored resources whose file disappeared are
// soft-deleted. Individual unreadable files are logged and skipped so one
// bad file never aborts the scan.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/store"
)

// Result counts the rows touched by a scan.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}

// Unchanged reports whether the scan wrote nothing.
func (r Result) Unchanged() bool {
	return r.Created == 0 && r.Updated == 0 && r.Deleted == 0
}

// Scanner walks project artifact trees.
type Scanner struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a scanner over the given store.
//
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.New(os.Stderr, "[scanner] ", log.LstdFlags)
	}
	return &Scanner{store: st, logger: logger}
}

// observation is one artifact file as seen on disk.
type observation struct {
	relPath     string
	absPath     string
	fileName    string
	typ         artifact.Type
	hash        string
	frontMatter string
	modTime     int64
}

// ScanProject reconciles the resources of projectID with the files under
// root/.bluekit.
func (s *Scanner) ScanProject(ctx context.Context, projectID, root string) (Result, error) {
	var result Result

	files, err := CollectFiles(root)
	if err != nil {
		return result, err
	}

	// Unreadable files keep their row: absence from disk, not a read
	// failure, is what soft-deletes.
	present := make(map[string]bool, len(files))
	observed := make([]observation, 0, len(files))
	for _, f := range files {
		present[f.Rel] = true
		obs, err := observe(f.Rel, f.Abs)
		if err != nil {
			s.logger.Printf("WARNING: Failed to read %s: %v", f.Abs, err)
			result.Skipped++
			continue
		}
		observed = append(observed, obs)
	}

	existing, err := s.store.ListResources(ctx, projectID, store.ListResourcesFilter{IncludeDeleted: true})
	if err != nil {
		return result, fmt.Errorf("failed to load resources of project %s: %w", projectID, err)
	}
	byPath := make(map[string]*store.Resource, len(existing))
	for _, r := range existing {
		byPath[r.RelativePath] = r
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		for _, obs := range observed {
			r, ok := byPath[obs.relPath]
			switch {
			case !ok:
				if err := tx.InsertResource(ctx, obs.resource(projectID)); err != nil {
					return err
				}
				result.Created++
			case r.ContentHash != obs.hash || r.IsDeleted:
				next := obs.resource(projectID)
				next.ID = r.ID
				if err := tx.UpdateResourceContent(ctx, next); err != nil {
					return err
				}
				result.Updated++
			}
		}

		for _, r := range existing {
			if r.IsDeleted || present[r.RelativePath] {
				continue
			}
			if err := tx.SoftDeleteResource(ctx, r.ID); err != nil {
				return err
			}
			result.Deleted++
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to apply scan of %s: %w", root, err)
	}

	if !result.Unchanged() {
		s.logger.Printf("Scanned %s: created=%d updated=%d deleted=%d skipped=%d",
			root, result.Created, result.Updated, result.Deleted, result.Skipped)
	}
	return result, nil
}

// ScanFile reconciles a single artifact file, as reported by a watcher.
// A missing file soft-deletes its resource.
func (s *Scanner) ScanFile(ctx context.Context, projectID, root, absPath string) (Result, error) {
	var result Result
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return result, fmt.Errorf("%s is outside %s: %w", absPath, root, err)
	}
	rel = filepath.ToSlash(rel)

	existing, err := s.store.GetResourceByPath(ctx, projectID, rel)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return result, err
	}

	obs, readErr := observe(rel, absPath)
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			if existing != nil && !existing.IsDeleted {
				if err := s.store.SoftDeleteResource(ctx, existing.ID); err != nil {
					return result, err
				}
				result.Deleted++
			}
			return result, nil
		}
		return result, readErr
	}

	switch {
	case existing == nil:
		if err := s.store.InsertResource(ctx, obs.resource(projectID)); err != nil {
			return result, err
		}
		result.Created++
	case existing.ContentHash != obs.hash || existing.IsDeleted:
		next := obs.resource(projectID)
		next.ID = existing.ID
		if err := s.store.UpdateResourceContent(ctx, next); err != nil {
			return result, err
		}
		result.Updated++
	}
	return result, nil
}

func observe(rel, abs string) (observation, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return observation{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return observation{}, err
	}

	obs := observation{
		relPath:  rel,
		absPath:  abs,
		fileName: filepath.Base(abs),
		typ:      artifact.TypeFromPath(rel),
		hash:     artifact.ContentHash(data),
		modTime:  info.ModTime().Unix(),
	}

	// A malformed header does not hide the file; it is stored without
	// front-matter.
	if fm, err := artifact.ParseFrontMatter(data); err == nil && fm != nil {
		if js, err := fm.JSON(); err == nil {
			obs.frontMatter = js
		}
	}
	return obs, nil
}

func (o observation) resource(projectID string) *store.Resource {
	return &store.Resource{
		ProjectID:      projectID,
		RelativePath:   o.relPath,
		FileName:       o.fileName,
		ArtifactType:   o.typ,
		ContentHash:    o.hash,
		FrontMatter:    o.frontMatter,
		LastModifiedAt: o.modTime,
	}
}

// File is an artifact file found under a project root.
type File struct {
	Rel string // slash-separated, relative to the project root
	Abs string
}

// CollectFiles lists every artifact file under root/.bluekit/{kits,
// walkthroughs, agents, diagrams, tasks}, sorted by relative path. Missing
// subdirectories are skipped.
func CollectFiles(root string) ([]File, error) {
	var files []File
	for _, sub := range artifact.ScannedSubdirs {
		dir := filepath.Join(root, artifact.DirName, sub)
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && p == dir {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !artifact.IsArtifactFile(d.Name()) {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			files = append(files, File{Rel: filepath.ToSlash(rel), Abs: p})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}
