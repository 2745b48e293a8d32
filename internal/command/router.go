// Package command maps the command names the GUI sends over the event
// channel to the services that answer them.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/events"
	"github.com/bluekit-app/bluekit/internal/library"
	"github.com/bluekit-app/bluekit/internal/project"
	"github.com/bluekit-app/bluekit/internal/scanner"
	"github.com/bluekit-app/bluekit/internal/store"
	"github.com/bluekit-app/bluekit/internal/watcher"
)

// Handler answers one command.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Router dispatches commands by name.
type Router struct {
	handlers map[string]Handler

	store    *store.Store
	library  *library.Service
	projects *project.Service
	scanner  *scanner.Scanner
	fleet    *watcher.Fleet

	databasePath string
	logger       *log.Logger
}

var _ events.Dispatcher = (*Router)(nil)

// Config wires a Router to its services.
type Config struct {
	Store    *store.Store
	Library  *library.Service
	Projects *project.Service
	Scanner  *scanner.Scanner
	Fleet    *watcher.Fleet

	// DatabasePath is the file watched by watch_projects_database.
	DatabasePath string

	// Logger for dispatch activity (default: stderr logger)
	Logger *log.Logger
}

// NewRouter creates a Router with every command registered.
func NewRouter(config Config) *Router {
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[command] ", log.LstdFlags)
	}
	r := &Router{
		handlers:     make(map[string]Handler),
		store:        config.Store,
		library:      config.Library,
		projects:     config.Projects,
		scanner:      config.Scanner,
		fleet:        config.Fleet,
		databasePath: config.DatabasePath,
		logger:       logger,
	}
	r.registerProjectCommands()
	r.registerLibraryCommands()
	r.registerWatcherCommands()
	return r
}

// Register adds or replaces a command.
func (r *Router) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Commands lists the registered command names.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named command.
func (r *Router) Dispatch(ctx context.Context, command string, args json.RawMessage) (any, error) {
	h, ok := r.handlers[command]
	if !ok {
		return nil, apperr.Validation(command, "command", "unknown command")
	}
	result, err := h(ctx, args)
	if err != nil {
		r.logger.Printf("Command %s failed: %v", command, err)
		return nil, err
	}
	return result, nil
}

// decode unmarshals command arguments. Missing arguments decode as the
// zero value.
func decode[T any](args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 || string(args) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, apperr.Validation("", "args", err.Error())
	}
	return v, nil
}

// require reports a missing argument.
func require(field, value string) error {
	if value == "" {
		return apperr.Validation("", field, "is required")
	}
	return nil
}

type projectPathArgs struct {
	ProjectPath string `json:"project_path"`
}

type projectIDArgs struct {
	ProjectID string `json:"project_id"`
}

type copyArgs struct {
	SourcePath    string `json:"source_path"`
	TargetProject string `json:"target_project"`
}

// withProjectPath adapts a read over a project root.
func withProjectPath(fn func(root string) (any, error)) Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[projectPathArgs](args)
		if err != nil {
			return nil, err
		}
		if err := require("project_path", a.ProjectPath); err != nil {
			return nil, err
		}
		return fn(a.ProjectPath)
	}
}

func (r *Router) registerProjectCommands() {
	p := r.projects

	r.Register("list_projects", func(ctx context.Context, _ json.RawMessage) (any, error) {
		projects, err := r.store.ListProjects(ctx)
		if projects == nil && err == nil {
			projects = []*store.Project{}
		}
		return projects, err
	})
	r.Register("get_project_artifacts", withProjectPath(func(root string) (any, error) {
		return p.GetProjectArtifacts(root)
	}))
	r.Register("get_changed_artifacts", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			ProjectPath string   `json:"project_path"`
			Paths       []string `json:"paths"`
		}](args)
		if err != nil {
			return nil, err
		}
		if err := require("project_path", a.ProjectPath); err != nil {
			return nil, err
		}
		return p.GetChangedArtifacts(a.ProjectPath, a.Paths)
	})
	r.Register("get_scrapbook_items", withProjectPath(func(root string) (any, error) {
		return p.GetScrapbookItems(root)
	}))
	r.Register("get_folder_markdown_files", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			FolderPath string `json:"folder_path"`
		}](args)
		if err != nil {
			return nil, err
		}
		if err := require("folder_path", a.FolderPath); err != nil {
			return nil, err
		}
		return p.GetFolderMarkdownFiles(a.FolderPath)
	})
	r.Register("get_project_diagrams", withProjectPath(func(root string) (any, error) {
		return p.GetProjectDiagrams(root)
	}))
	r.Register("get_blueprints", withProjectPath(func(root string) (any, error) {
		return p.GetBlueprints(root)
	}))
	r.Register("get_blueprint_task_file", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			BlueprintPath string `json:"blueprint_path"`
			TaskFile      string `json:"task_file"`
		}](args)
		if err != nil {
			return nil, err
		}
		if err := require("blueprint_path", a.BlueprintPath); err != nil {
			return nil, err
		}
		return p.GetBlueprintTaskFile(a.BlueprintPath, a.TaskFile)
	})
	r.Register("get_plan_details", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			PlanID string `json:"plan_id"`
		}](args)
		if err != nil {
			return nil, err
		}
		return r.store.GetPlanDetails(ctx, a.PlanID)
	})
	r.Register("get_walkthrough_details", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			WalkthroughID string `json:"walkthrough_id"`
		}](args)
		if err != nil {
			return nil, err
		}
		return r.store.GetWalkthroughDetails(ctx, a.WalkthroughID)
	})
	r.Register("write_file", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}](args)
		if err != nil {
			return nil, err
		}
		if err := p.WriteFile(a.Path, a.Content); err != nil {
			return nil, err
		}
		return map[string]string{"path": a.Path}, nil
	})

	copyCmd := func(fn func(src, target string) (string, error)) Handler {
		return func(ctx context.Context, args json.RawMessage) (any, error) {
			a, err := decode[copyArgs](args)
			if err != nil {
				return nil, err
			}
			if err := require("source_path", a.SourcePath); err != nil {
				return nil, err
			}
			if err := require("target_project", a.TargetProject); err != nil {
				return nil, err
			}
			dest, err := fn(a.SourcePath, a.TargetProject)
			if err != nil {
				return nil, err
			}
			return map[string]string{"path": dest}, nil
		}
	}
	r.Register("copy_kit_to_project", copyCmd(p.CopyKitToProject))
	r.Register("copy_walkthrough_to_project", copyCmd(p.CopyWalkthroughToProject))
	r.Register("copy_diagram_to_project", copyCmd(p.CopyDiagramToProject))
	r.Register("copy_blueprint_to_project", copyCmd(p.CopyBlueprintToProject))

	r.Register("create_new_project", func(ctx context.Context, args json.RawMessage) (any, error) {
		req, err := decode[project.CreateRequest](args)
		if err != nil {
			return nil, err
		}
		return p.CreateProject(ctx, req)
	})
	r.Register("scan_project_resources", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[projectIDArgs](args)
		if err != nil {
			return nil, err
		}
		proj, err := r.store.GetProject(ctx, a.ProjectID)
		if err != nil {
			return nil, err
		}
		return r.scanner.ScanProject(ctx, proj.ID, proj.Path)
	})
}

func (r *Router) registerLibraryCommands() {
	lib := r.library

	r.Register("list_workspaces", func(ctx context.Context, _ json.RawMessage) (any, error) {
		ws, err := r.store.ListWorkspaces(ctx)
		if ws == nil && err == nil {
			ws = []*store.Workspace{}
		}
		return ws, err
	})
	r.Register("add_workspace", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			Owner string `json:"owner"`
			Repo  string `json:"repo"`
			Name  string `json:"name"`
		}](args)
		if err != nil {
			return nil, err
		}
		if err := require("owner", a.Owner); err != nil {
			return nil, err
		}
		if err := require("repo", a.Repo); err != nil {
			return nil, err
		}
		return r.store.UpsertWorkspace(ctx, a.Owner, a.Repo, a.Name)
	})
	r.Register("check_project_for_updates", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[projectIDArgs](args)
		if err != nil {
			return nil, err
		}
		return lib.CheckProjectForUpdates(ctx, a.ProjectID)
	})
	r.Register("check_resource_status", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			ResourceID string `json:"resource_id"`
		}](args)
		if err != nil {
			return nil, err
		}
		return lib.CheckResourceStatus(ctx, a.ResourceID)
	})
	r.Register("publish_check", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			ResourceID  string `json:"resource_id"`
			WorkspaceID string `json:"workspace_id"`
		}](args)
		if err != nil {
			return nil, err
		}
		return lib.CheckPublishStatus(ctx, a.ResourceID, a.WorkspaceID)
	})
	r.Register("publish_commit", func(ctx context.Context, args json.RawMessage) (any, error) {
		req, err := decode[library.PublishRequest](args)
		if err != nil {
			return nil, err
		}
		return lib.PublishResource(ctx, req)
	})
	r.Register("pull_variation", func(ctx context.Context, args json.RawMessage) (any, error) {
		req, err := decode[library.PullRequest](args)
		if err != nil {
			return nil, err
		}
		return lib.PullVariation(ctx, req)
	})
	r.Register("sync_workspace_catalog", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[workspaceArgs](args)
		if err != nil {
			return nil, err
		}
		report, err := lib.SyncWorkspaceCatalog(ctx, a.WorkspaceID)
		if report != nil {
			// Per-file failures travel inside the report.
			return report, nil
		}
		return nil, err
	})
	r.Register("list_workspace_catalogs", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[workspaceArgs](args)
		if err != nil {
			return nil, err
		}
		return lib.ListWorkspaceCatalogs(ctx, a.WorkspaceID)
	})
	r.Register("list_workspace_folders", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[workspaceArgs](args)
		if err != nil {
			return nil, err
		}
		return lib.ListFolders(ctx, a.WorkspaceID)
	})
	r.Register("delete_catalogs", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			CatalogIDs []string `json:"catalog_ids"`
		}](args)
		if err != nil {
			return nil, err
		}
		return lib.DeleteCatalogs(ctx, a.CatalogIDs), nil
	})
	r.Register("publish_library_changes", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			WorkspaceID string           `json:"workspace_id"`
			Changes     []library.Change `json:"changes"`
		}](args)
		if err != nil {
			return nil, err
		}
		return lib.ApplyChanges(ctx, a.WorkspaceID, a.Changes)
	})
}

type workspaceArgs struct {
	WorkspaceID string `json:"workspace_id"`
}

func (r *Router) registerWatcherCommands() {
	r.Register("watch_project_artifacts", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[projectIDArgs](args)
		if err != nil {
			return nil, err
		}
		proj, err := r.store.GetProject(ctx, a.ProjectID)
		if err != nil {
			return nil, err
		}
		name := watcher.ProjectArtifactsEvent(proj.ID)
		if err := r.fleet.WatchDirectory(filepath.Join(proj.Path, artifact.DirName), name); err != nil {
			return nil, err
		}
		return map[string]string{"event_name": name}, nil
	})
	r.Register("watch_projects_database", func(ctx context.Context, _ json.RawMessage) (any, error) {
		if r.databasePath == "" {
			return nil, fmt.Errorf("database path not configured: %w", apperr.ErrValidation)
		}
		if err := r.fleet.WatchFile(r.databasePath, watcher.ProjectsDatabaseEvent); err != nil {
			return nil, err
		}
		return map[string]string{"event_name": watcher.ProjectsDatabaseEvent}, nil
	})
	r.Register("stop_watcher", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			EventName string `json:"event_name"`
		}](args)
		if err != nil {
			return nil, err
		}
		if err := require("event_name", a.EventName); err != nil {
			return nil, err
		}
		return map[string]bool{"stopped": true}, r.fleet.Stop(a.EventName)
	})
	r.Register("watcher_exists", func(ctx context.Context, args json.RawMessage) (any, error) {
		a, err := decode[struct {
			EventName string `json:"event_name"`
		}](args)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"exists": r.fleet.Exists(a.EventName)}, nil
	})
	r.Register("get_watcher_health", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return r.fleet.Health(), nil
	})
	r.Register("get_cache_stats", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return r.projects.Cache().Stats(), nil
	})
}
