package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/scanner"
)

// Artifact is one document of a project as returned to the GUI.
type Artifact struct {
	Path         string               `json:"path"`
	RelativePath string               `json:"relative_path"`
	Name         string               `json:"name"`
	Title        string               `json:"title"`
	Type         artifact.Type        `json:"artifact_type"`
	FrontMatter  artifact.FrontMatter `json:"front_matter,omitempty"`
	Content      string               `json:"content"`
	ModifiedAt   int64                `json:"modified_at"` // Unix milliseconds
}

// readArtifact loads one file through the cache. A malformed header is
// kept as an artifact without front matter.
func (s *Service) readArtifact(root, absPath string) (*Artifact, error) {
	content, err := s.cache.GetOrRead(absPath)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		rel = absPath
	}
	rel = filepath.ToSlash(rel)

	name := filepath.Base(absPath)
	fm, err := artifact.ParseFrontMatter([]byte(content))
	if err != nil {
		s.logger.Printf("WARNING: Ignoring front matter of %s: %v", absPath, err)
		fm = nil
	}
	a := &Artifact{
		Path:         absPath,
		RelativePath: rel,
		Name:         name,
		Title:        artifact.Title(fm, []byte(content), name),
		Type:         artifact.TypeFromPath(rel),
		FrontMatter:  fm,
		Content:      content,
	}
	if t := fm.Type(); t != "" && a.Type == artifact.TypeOther {
		a.Type = t
	}
	if info, err := os.Stat(absPath); err == nil {
		a.ModifiedAt = info.ModTime().UnixMilli()
	}
	return a, nil
}

// GetProjectArtifacts returns every artifact under the project's scanned
// .bluekit subdirectories. Unreadable files are logged and skipped.
func (s *Service) GetProjectArtifacts(root string) ([]*Artifact, error) {
	files, err := scanner.CollectFiles(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts of %s: %w", root, err)
	}
	out := make([]*Artifact, 0, len(files))
	for _, f := range files {
		a, err := s.readArtifact(root, f.Abs)
		if err != nil {
			s.logger.Printf("WARNING: Failed to read %s: %v", f.Abs, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ChangedArtifacts is the result of rereading a set of changed paths.
type ChangedArtifacts struct {
	Artifacts []*Artifact `json:"artifacts"`
	Removed   []string    `json:"removed"`
}

// GetChangedArtifacts rereads the given paths after a watcher event.
// Relative paths are resolved against root. Paths that no longer exist
// are listed as removed.
func (s *Service) GetChangedArtifacts(root string, paths []string) (*ChangedArtifacts, error) {
	out := &ChangedArtifacts{Artifacts: []*Artifact{}, Removed: []string{}}
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, filepath.FromSlash(p))
		}
		if !artifact.IsArtifactFile(abs) {
			continue
		}
		s.cache.Invalidate(abs)
		a, err := s.readArtifact(root, abs)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				out.Removed = append(out.Removed, abs)
				continue
			}
			return nil, err
		}
		out.Artifacts = append(out.Artifacts, a)
	}
	return out, nil
}

// reservedEntries are .bluekit entries owned by other features.
var reservedEntries = map[string]bool{
	"blueprints":  true,
	"plans":       true,
	"other":       true,
	"clones.json": true,
}

func init() {
	for _, sub := range artifact.ScannedSubdirs {
		reservedEntries[sub] = true
	}
}

// ScrapbookItem is a user folder or loose document directly under .bluekit.
type ScrapbookItem struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	IsFolder  bool   `json:"is_folder"`
	FileCount int    `json:"file_count,omitempty"`
}

// GetScrapbookItems lists user folders and loose Markdown files directly
// under the project's .bluekit directory. Folders come first.
func (s *Service) GetScrapbookItems(root string) ([]ScrapbookItem, error) {
	dir := filepath.Join(root, artifact.DirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ScrapbookItem{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %v: %w", dir, err, apperr.ErrIO)
	}

	items := []ScrapbookItem{}
	for _, e := range entries {
		name := e.Name()
		if reservedEntries[name] || strings.HasPrefix(name, ".") {
			continue
		}
		p := filepath.Join(dir, name)
		switch {
		case e.IsDir():
			files, _ := markdownFiles(p)
			items = append(items, ScrapbookItem{Name: name, Path: p, IsFolder: true, FileCount: len(files)})
		case strings.EqualFold(filepath.Ext(name), ".md"):
			items = append(items, ScrapbookItem{Name: name, Path: p})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsFolder != items[j].IsFolder {
			return items[i].IsFolder
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// GetFolderMarkdownFiles returns the Markdown documents directly inside
// folder.
func (s *Service) GetFolderMarkdownFiles(folder string) ([]*Artifact, error) {
	files, err := markdownFiles(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("folder", folder)
		}
		return nil, fmt.Errorf("failed to read %s: %v: %w", folder, err, apperr.ErrIO)
	}
	out := make([]*Artifact, 0, len(files))
	for _, f := range files {
		a, err := s.readArtifact(folder, f)
		if err != nil {
			s.logger.Printf("WARNING: Failed to read %s: %v", f, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// GetProjectDiagrams returns the Mermaid diagrams anywhere under .bluekit
// plus Markdown documents in the diagrams directory.
func (s *Service) GetProjectDiagrams(root string) ([]*Artifact, error) {
	dir := filepath.Join(root, artifact.DirName)
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		if artifact.IsDiagramFile(p) || artifact.IsArtifactFile(p) && artifact.TypeFromPath(rel) == artifact.TypeDiagram {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %v: %w", dir, err, apperr.ErrIO)
	}
	sort.Strings(paths)

	out := make([]*Artifact, 0, len(paths))
	for _, p := range paths {
		a, err := s.readArtifact(root, p)
		if err != nil {
			s.logger.Printf("WARNING: Failed to read %s: %v", p, err)
			continue
		}
		a.Type = artifact.TypeDiagram
		out = append(out, a)
	}
	return out, nil
}

// markdownFiles lists *.md files directly in dir, sorted.
func markdownFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// WriteFile writes content to path, creating parent directories, and
// records it in the cache.
func (s *Service) WriteFile(path, content string) error {
	if !filepath.IsAbs(path) {
		return apperr.Validation(path, "path", "must be absolute")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %v: %w", filepath.Dir(path), err, apperr.ErrIO)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %v: %w", path, err, apperr.ErrIO)
	}
	return s.cache.Update(path, content)
}
