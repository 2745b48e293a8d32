package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/gitinfo"
	"github.com/bluekit-app/bluekit/internal/scanner"
	"github.com/bluekit-app/bluekit/internal/store"
)

// CreateRequest asks to create and register a project.
type CreateRequest struct {
	Path        string `json:"path"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// SourceFiles are artifact files copied into the new project; each
	// lands in the subdirectory its own path implies.
	SourceFiles []string `json:"source_files,omitempty"`
}

// CreateResult describes a created project.
type CreateResult struct {
	Project *store.Project `json:"project"`
	Copied  []string       `json:"copied"`
	Scan    scanner.Result `json:"scan"`
}

// CreateProject lays out the .bluekit tree at req.Path, copies the source
// artifacts, registers the project and scans it. An existing directory is
// adopted rather than refused.
func (s *Service) CreateProject(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Path == "" || !filepath.IsAbs(req.Path) {
		return nil, apperr.Validation(req.Path, "path", "must be an absolute path")
	}
	root := filepath.Clean(req.Path)
	if fi, err := os.Stat(root); err == nil && !fi.IsDir() {
		return nil, fmt.Errorf("%s is a file: %w", root, apperr.ErrConflict)
	}

	for _, sub := range artifact.ScannedSubdirs {
		dir := filepath.Join(root, artifact.DirName, sub)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %v: %w", dir, err, apperr.ErrIO)
		}
	}

	result := &CreateResult{Copied: []string{}}
	for _, src := range req.SourceFiles {
		typ := artifact.TypeFromPath(src)
		dest, err := s.CopyArtifactToProject(src, root, typ)
		if err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", src, err)
		}
		result.Copied = append(result.Copied, dest)
	}

	p := &store.Project{
		Name:        strings.TrimSpace(req.Name),
		Path:        root,
		Description: req.Description,
	}
	if p.Name == "" {
		p.Name = filepath.Base(root)
	}
	info, err := gitinfo.Detect(ctx, root)
	switch {
	case err == nil:
		p.GitURL = info.RemoteURL
		p.GitBranch = info.Branch
		p.GitCommit = info.Commit
	case !errors.Is(err, gitinfo.ErrNotInRepo):
		s.logger.Printf("WARNING: Failed to read git metadata of %s: %v", root, err)
	}
	if err := s.store.UpsertProjectByPath(ctx, p); err != nil {
		return nil, err
	}
	result.Project = p

	scan, err := s.scanner.ScanProject(ctx, p.ID, root)
	if err != nil {
		return nil, err
	}
	result.Scan = scan
	s.logger.Printf("Created project %s at %s", p.Name, root)
	return result, nil
}
