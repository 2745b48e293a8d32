// Package legacy imports the project registry kept by older releases
// (~/.bluekit/projectRegistry.json) into the project table.
package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/gitinfo"
	"github.com/bluekit-app/bluekit/internal/store"
)

// RegistryFile is the registry's file name under the BlueKit home.
const RegistryFile = "projectRegistry.json"

// Entry is one project of the legacy registry.
type Entry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"createdAt,omitempty"` // Unix milliseconds
}

// ImportOptions configures an import.
type ImportOptions struct {
	Registry string // Registry file path
	DryRun   bool   // Report without writing
	Backup   bool   // Copy the registry aside before importing

	// Logger for import activity (default: stderr logger)
	Logger *log.Logger
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported      int      `json:"imported"`
	Updated       int      `json:"updated"`
	Missing       []string `json:"missing"`
	BackupCreated string   `json:"backup_created,omitempty"`
	Errors        []string `json:"errors"`
}

// ReadRegistry parses a registry file.
func ReadRegistry(path string) ([]Entry, error) {
	// #nosec G304 - registry path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("registry", path)
		}
		return nil, fmt.Errorf("failed to read registry: %v: %w", err, apperr.ErrIO)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("invalid registry %s: %v: %w", path, err, apperr.ErrParse)
	}
	return entries, nil
}

// WriteRegistry writes entries atomically via a temp file.
func WriteRegistry(path string, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Import upserts every registry project whose directory still exists.
// Projects already known by path keep their id; new ones take the
// registry id. Missing directories are reported, not imported.
func Import(ctx context.Context, st *store.Store, opts ImportOptions) (*ImportResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[legacy] ", log.LstdFlags)
	}

	entries, err := ReadRegistry(opts.Registry)
	if err != nil {
		return nil, err
	}
	result := &ImportResult{Missing: []string{}, Errors: []string{}}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.Registry + ".backup." + time.Now().Format("20060102-150405")
		if err := copyFile(opts.Registry, backupPath); err != nil {
			return nil, fmt.Errorf("failed to back up registry: %w", err)
		}
		result.BackupCreated = backupPath
	}

	for _, e := range entries {
		if e.Path == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %q has no path", e.ID))
			continue
		}
		if fi, err := os.Stat(e.Path); err != nil || !fi.IsDir() {
			result.Missing = append(result.Missing, e.Path)
			continue
		}

		p := &store.Project{
			ID:          e.ID,
			Name:        strings.TrimSpace(e.Title),
			Path:        filepath.Clean(e.Path),
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		}
		if p.Name == "" {
			p.Name = filepath.Base(p.Path)
		}
		if info, err := gitinfo.Detect(ctx, p.Path); err == nil {
			p.GitURL = info.RemoteURL
			p.GitBranch = info.Branch
			p.GitCommit = info.Commit
		}

		_, lookupErr := st.GetProjectByPath(ctx, p.Path)
		existed := lookupErr == nil
		if opts.DryRun {
			if existed {
				result.Updated++
			} else {
				result.Imported++
			}
			continue
		}
		if existed {
			p.ID = ""
		}
		if err := st.UpsertProjectByPath(ctx, p); err != nil {
			logger.Printf("WARNING: Failed to import %s: %v", p.Path, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", p.Path, err))
			continue
		}
		if existed {
			result.Updated++
		} else {
			result.Imported++
		}
	}

	logger.Printf("Imported registry %s: %d new, %d updated, %d missing, %d errors",
		opts.Registry, result.Imported, result.Updated, len(result.Missing), len(result.Errors))
	return result, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
