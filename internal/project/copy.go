package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
)

// CopyArtifactToProject copies a single artifact file into the target
// project's .bluekit/<subdir> for typ and returns the destination path.
// An existing destination is overwritten.
func (s *Service) CopyArtifactToProject(source, targetRoot string, typ artifact.Type) (string, error) {
	content, err := s.cache.GetOrRead(source)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(targetRoot, filepath.FromSlash(artifact.LocalRelPath(typ, filepath.Base(source))))
	if err := s.WriteFile(dest, content); err != nil {
		return "", err
	}
	s.logger.Printf("Copied %s to %s", source, dest)
	return dest, nil
}

// CopyKitToProject copies a kit into .bluekit/kits.
func (s *Service) CopyKitToProject(source, targetRoot string) (string, error) {
	return s.CopyArtifactToProject(source, targetRoot, artifact.TypeKit)
}

// CopyWalkthroughToProject copies a walkthrough into .bluekit/walkthroughs.
func (s *Service) CopyWalkthroughToProject(source, targetRoot string) (string, error) {
	return s.CopyArtifactToProject(source, targetRoot, artifact.TypeWalkthrough)
}

// CopyDiagramToProject copies a diagram into .bluekit/diagrams.
func (s *Service) CopyDiagramToProject(source, targetRoot string) (string, error) {
	return s.CopyArtifactToProject(source, targetRoot, artifact.TypeDiagram)
}

// CopyBlueprintToProject copies a blueprint directory into
// .bluekit/blueprints/<name> and returns the destination directory.
func (s *Service) CopyBlueprintToProject(sourceDir, targetRoot string) (string, error) {
	if _, err := os.Stat(filepath.Join(sourceDir, BlueprintFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperr.Validation(sourceDir, BlueprintFile, "not a blueprint directory")
		}
		return "", fmt.Errorf("failed to stat %s: %v: %w", sourceDir, err, apperr.ErrIO)
	}

	dest := filepath.Join(targetRoot, artifact.DirName, "blueprints", filepath.Base(sourceDir))
	err := filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return s.WriteFile(target, string(data))
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy blueprint %s: %v: %w", sourceDir, err, apperr.ErrIO)
	}
	s.logger.Printf("Copied blueprint %s to %s", sourceDir, dest)
	return dest, nil
}
