package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
)

// BlueprintFile is the manifest of a blueprint directory.
const BlueprintFile = "blueprint.json"

// BlueprintTask is one task of a layer; TaskFile is relative to the
// blueprint directory.
type BlueprintTask struct {
	ID          string `json:"id"`
	TaskFile    string `json:"taskFile"`
	Description string `json:"description,omitempty"`
}

// BlueprintLayer groups tasks that run in the same phase.
type BlueprintLayer struct {
	ID    string          `json:"id"`
	Order int             `json:"order"`
	Name  string          `json:"name"`
	Tasks []BlueprintTask `json:"tasks"`
}

// BlueprintMetadata is the decoded blueprint.json.
type BlueprintMetadata struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Version     int              `json:"version,omitempty"`
	Description string           `json:"description,omitempty"`
	CreatedAt   string           `json:"createdAt,omitempty"`
	Layers      []BlueprintLayer `json:"layers"`
}

// Blueprint is a blueprint directory and its manifest.
type Blueprint struct {
	Path     string            `json:"path"`
	Metadata BlueprintMetadata `json:"metadata"`
}

// GetBlueprints lists the blueprints under .bluekit/blueprints. A
// directory whose manifest is missing or invalid is logged and skipped.
func (s *Service) GetBlueprints(root string) ([]*Blueprint, error) {
	dir := filepath.Join(root, artifact.DirName, "blueprints")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*Blueprint{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %v: %w", dir, err, apperr.ErrIO)
	}

	out := []*Blueprint{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		bp, err := s.readBlueprint(filepath.Join(dir, e.Name()))
		if err != nil {
			s.logger.Printf("WARNING: Skipping blueprint %s: %v", e.Name(), err)
			continue
		}
		out = append(out, bp)
	}
	return out, nil
}

func (s *Service) readBlueprint(dir string) (*Blueprint, error) {
	content, err := s.cache.GetOrRead(filepath.Join(dir, BlueprintFile))
	if err != nil {
		return nil, err
	}
	var meta BlueprintMetadata
	if err := json.Unmarshal([]byte(content), &meta); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", BlueprintFile, err, apperr.ErrParse)
	}
	if meta.Name == "" {
		meta.Name = filepath.Base(dir)
	}
	sort.SliceStable(meta.Layers, func(i, j int) bool { return meta.Layers[i].Order < meta.Layers[j].Order })
	return &Blueprint{Path: dir, Metadata: meta}, nil
}

// GetBlueprintTaskFile reads a task file of a blueprint. The task file
// must stay inside the blueprint directory.
func (s *Service) GetBlueprintTaskFile(blueprintPath, taskFile string) (string, error) {
	p, err := within(blueprintPath, taskFile)
	if err != nil {
		return "", err
	}
	return s.cache.GetOrRead(p)
}

// within joins rel onto base and rejects results outside base.
func within(base, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", apperr.Validation(rel, "path", "must be a relative path")
	}
	p := filepath.Join(base, filepath.FromSlash(rel))
	r, err := filepath.Rel(base, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", apperr.Validation(rel, "path", "escapes "+base)
	}
	return p, nil
}
