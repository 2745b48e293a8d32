package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/cache"
	"github.com/bluekit-app/bluekit/internal/config"
	"github.com/bluekit-app/bluekit/internal/github"
	"github.com/bluekit-app/bluekit/internal/library"
	"github.com/bluekit-app/bluekit/internal/logging"
	"github.com/bluekit-app/bluekit/internal/project"
	"github.com/bluekit-app/bluekit/internal/scanner"
	"github.com/bluekit-app/bluekit/internal/store"
	"github.com/bluekit-app/bluekit/internal/ui"
)

// app holds the services every command shares.
type app struct {
	cfg      *config.Config
	logs     *logging.Sink
	store    *store.Store
	cache    *cache.ContentCache
	scanner  *scanner.Scanner
	projects *project.Service
	github   *github.Client
	library  *library.Service
	asJSON   bool
}

// openApp loads configuration and opens the store. stderr forces log
// lines onto stderr regardless of --verbose.
func openApp(cmd *cobra.Command, stderr bool) *app {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		fatalf("loading config: %v", err)
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	asJSON, _ := cmd.Flags().GetBool("json")

	logs, err := logging.Open(logging.Options{
		File:   cfg.Log.File,
		Stderr: verbose || (stderr && cfg.Log.Stderr),
	})
	if err != nil {
		fatalf("opening log: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		fatalf("creating %s: %v", filepath.Dir(cfg.Database.Path), err)
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		fatalf("opening database %s: %v", cfg.Database.Path, err)
	}

	gh, err := github.NewClient(github.Config{
		BaseURL: cfg.GitHub.BaseURL,
		Token:   cfg.GitHub.Token,
		Branch:  cfg.GitHub.Branch,
		Logger:  logs.New("github"),
	})
	if err != nil {
		fatalf("configuring GitHub client: %v", err)
	}

	c := cache.New(logs.New("cache"))
	sc := scanner.New(st, logs.New("scanner"))
	return &app{
		cfg:      cfg,
		logs:     logs,
		store:    st,
		cache:    c,
		scanner:  sc,
		projects: project.New(project.Config{Store: st, Cache: c, Scanner: sc, Logger: logs.New("project")}),
		github:   gh,
		library:  library.New(library.Config{Store: st, Remote: gh, Logger: logs.New("library")}),
		asJSON:   asJSON,
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
	}
	_ = a.logs.Close()
}

// resolveProject finds a registered project by id or by path. An empty
// argument means the working directory.
func (a *app) resolveProject(ctx context.Context, arg string) (*store.Project, error) {
	if arg != "" {
		if p, err := a.store.GetProject(ctx, arg); err == nil {
			return p, nil
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}
	path := arg
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	// Walk up so a path inside the project resolves too.
	for dir := abs; ; dir = filepath.Dir(dir) {
		p, err := a.store.GetProjectByPath(ctx, dir)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		if parent := filepath.Dir(dir); parent == dir {
			break
		}
	}
	return nil, fmt.Errorf("no registered project at %s (run 'bluekit scan %s' first): %w", abs, path, apperr.ErrNotFound)
}

// resolveWorkspace finds a workspace by id or owner/repo.
func (a *app) resolveWorkspace(ctx context.Context, arg string) (*store.Workspace, error) {
	if owner, repo, ok := strings.Cut(arg, "/"); ok {
		return a.store.GetWorkspaceByRepo(ctx, owner, repo)
	}
	return a.store.GetWorkspace(ctx, arg)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encoding output: %v", err)
	}
}

// printReport renders a batch report and reports whether it had failures.
func printReport(r library.BatchReport) bool {
	for _, id := range r.Succeeded {
		fmt.Printf("  %s %s\n", ui.RenderPass("✓"), id)
	}
	for _, w := range r.Warnings {
		fmt.Printf("  %s %s: %s\n", ui.RenderWarn("⚠"), w.ID, w.Message)
	}
	for _, f := range r.Failed {
		fmt.Printf("  %s %s [%s]: %s\n", ui.RenderFail("✗"), f.ID, f.Kind, f.Message)
	}
	return r.HasFailures()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}
