package command

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/cache"
	"github.com/bluekit-app/bluekit/internal/scanner"
	"github.com/bluekit-app/bluekit/internal/store"
	"github.com/bluekit-app/bluekit/internal/watcher"
)

// ScanningEmitter reconciles the resource index before forwarding project
// artifact notifications, so listeners that re-query see fresh rows.
type ScanningEmitter struct {
	next    watcher.Emitter
	store   *store.Store
	scanner *scanner.Scanner
	cache   *cache.ContentCache
	logger  *log.Logger
}

// NewScanningEmitter wraps next. A nil cache skips invalidation.
func NewScanningEmitter(next watcher.Emitter, st *store.Store, sc *scanner.Scanner, c *cache.ContentCache, logger *log.Logger) *ScanningEmitter {
	if logger == nil {
		logger = log.New(os.Stderr, "[scan] ", log.LstdFlags)
	}
	return &ScanningEmitter{next: next, store: st, scanner: sc, cache: c, logger: logger}
}

// Emit implements watcher.Emitter.
func (e *ScanningEmitter) Emit(name string, payload any) {
	if change, ok := payload.(watcher.ChangePayload); ok && strings.HasPrefix(name, watcher.ProjectArtifactsPrefix) {
		e.rescan(strings.TrimPrefix(name, watcher.ProjectArtifactsPrefix), change.Paths)
	}
	e.next.Emit(name, payload)
}

func (e *ScanningEmitter) rescan(projectID string, paths []string) {
	ctx := context.Background()
	proj, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		e.logger.Printf("WARNING: Dropping change for project %s: %v", projectID, err)
		return
	}
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(proj.Path, filepath.FromSlash(p))
		}
		if e.cache != nil {
			e.cache.Invalidate(p)
		}
		if !indexed(proj.Path, p) {
			continue
		}
		if _, err := e.scanner.ScanFile(ctx, proj.ID, proj.Path, p); err != nil {
			e.logger.Printf("WARNING: Failed to rescan %s: %v", p, err)
		}
	}
}

// indexed reports whether p is an artifact file in one of the scanned
// subdirectories of root.
func indexed(root, p string) bool {
	if !artifact.IsArtifactFile(filepath.Base(p)) {
		return false
	}
	rel, err := filepath.Rel(filepath.Join(root, artifact.DirName), p)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return false
	}
	_, ok := artifact.TypeForSubdir(parts[0])
	return ok
}
