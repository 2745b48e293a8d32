package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bluekit-app/bluekit/internal/library"
	"github.com/bluekit-app/bluekit/internal/ui"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	GroupID: "library",
	Short:   "Manage library workspaces",
}

var workspaceAddCmd = &cobra.Command{
	Use:   "add <owner/repo>",
	Short: "Register a repository as a library workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()

		owner, repo, ok := strings.Cut(args[0], "/")
		if !ok || owner == "" || repo == "" {
			fatalf("workspace must be owner/repo, got %q", args[0])
		}
		name, _ := cmd.Flags().GetString("name")
		ws, err := a.store.UpsertWorkspace(cmd.Context(), owner, repo, name)
		if err != nil {
			fatalf("%v", err)
		}
		if a.asJSON {
			printJSON(ws)
			return
		}
		fmt.Printf("%s Workspace %s (%s)\n", ui.RenderPass("✓"), ws.FullName(), ws.ID)
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List library workspaces",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()

		list, err := a.store.ListWorkspaces(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if a.asJSON {
			printJSON(list)
			return
		}
		for _, ws := range list {
			fmt.Printf("%s  %s  %s\n", ui.RenderAccent(ws.FullName()), ws.Name, ui.RenderMuted(ws.ID))
		}
	},
}

var publishCmd = &cobra.Command{
	Use:     "publish <artifact-path>",
	GroupID: "library",
	Short:   "Publish a project artifact to a library workspace",
	Long: `Publish the current content of an indexed artifact to a workspace.

Without --overwrite a new variation is added to the artifact's catalog.
Run 'bluekit scan' first when the file changed since the last scan.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()
		ctx := cmd.Context()

		wsArg, _ := cmd.Flags().GetString("workspace")
		ws, err := a.resolveWorkspace(ctx, wsArg)
		if err != nil {
			fatalf("workspace %q: %v", wsArg, err)
		}
		abs, err := filepath.Abs(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		p, err := a.resolveProject(ctx, filepath.Dir(abs))
		if err != nil {
			fatalf("%v", err)
		}
		rel, err := filepath.Rel(p.Path, abs)
		if err != nil {
			fatalf("%v", err)
		}
		res, err := a.store.GetResourceByPath(ctx, p.ID, filepath.ToSlash(rel))
		if err != nil {
			fatalf("%s is not indexed: %v", rel, err)
		}

		overwrite, _ := cmd.Flags().GetString("overwrite")
		tag, _ := cmd.Flags().GetString("tag")
		out, err := a.library.PublishResource(ctx, library.PublishRequest{
			ResourceID:           res.ID,
			WorkspaceID:          ws.ID,
			OverwriteVariationID: overwrite,
			VersionTag:           tag,
		})
		if err != nil {
			fatalf("publishing %s: %v", rel, err)
		}
		if a.asJSON {
			printJSON(out)
			return
		}
		fmt.Printf("%s Published %s to %s\n", ui.RenderPass("✓"), rel, ws.FullName())
		fmt.Printf("   Catalog:   %s (%s)\n", out.Catalog.Name, out.Catalog.ID)
		fmt.Printf("   Variation: %s\n", out.Variation.ID)
		fmt.Printf("   Remote:    %s\n", out.Variation.RemotePath)
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull <variation-id>",
	GroupID: "library",
	Short:   "Pull a library variation into a project",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()
		ctx := cmd.Context()

		projectArg, _ := cmd.Flags().GetString("project")
		p, err := a.resolveProject(ctx, projectArg)
		if err != nil {
			fatalf("%v", err)
		}
		target, _ := cmd.Flags().GetString("target")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		out, err := a.library.PullVariation(ctx, library.PullRequest{
			VariationID: args[0],
			ProjectID:   p.ID,
			TargetPath:  target,
			Overwrite:   overwrite,
		})
		if err != nil {
			fatalf("pulling %s: %v", args[0], err)
		}
		if a.asJSON {
			printJSON(out)
			return
		}
		fmt.Printf("%s Pulled into %s\n", ui.RenderPass("✓"), out.Path)
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync <workspace>",
	GroupID: "library",
	Short:   "Mirror a workspace's remote artifacts into the catalog",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()
		ctx := cmd.Context()

		ws, err := a.resolveWorkspace(ctx, args[0])
		if err != nil {
			fatalf("workspace %q: %v", args[0], err)
		}
		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), ws.FullName())
		report, err := a.library.SyncWorkspaceCatalog(ctx, ws.ID)
		if report == nil {
			fatalf("syncing %s: %v", ws.FullName(), err)
		}
		if a.asJSON {
			printJSON(report)
		} else {
			printReport(report.BatchReport)
			fmt.Printf("   Catalogs created: %d  Variations created: %d  Folders: %d\n",
				report.CatalogsCreated, report.VariationsCreated, len(report.Folders))
		}
		if err != nil {
			os.Exit(1)
		}
	},
}

var catalogsCmd = &cobra.Command{
	Use:     "catalogs <workspace>",
	GroupID: "library",
	Short:   "List a workspace's catalogs and variations",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()
		ctx := cmd.Context()

		ws, err := a.resolveWorkspace(ctx, args[0])
		if err != nil {
			fatalf("workspace %q: %v", args[0], err)
		}
		list, err := a.library.ListWorkspaceCatalogs(ctx, ws.ID)
		if err != nil {
			fatalf("%v", err)
		}
		if a.asJSON {
			printJSON(list)
			return
		}
		for _, c := range list {
			fmt.Printf("%s  %s  %s\n", ui.RenderAccent(c.Catalog.Name), c.Catalog.ArtifactType, ui.RenderMuted(c.Catalog.ID))
			for _, v := range c.Variations {
				tag := v.VersionTag
				if tag == "" {
					tag = v.ContentHash[:min(12, len(v.ContentHash))]
				}
				fmt.Printf("   %s  %s by %s\n", v.ID, tag, v.Publisher)
			}
		}
	},
}

var reorgCmd = &cobra.Command{
	Use:     "reorg <workspace>",
	GroupID: "library",
	Short:   "Apply folder and catalog changes to a workspace",
	Long: `Apply a change-set to a workspace in the order given:

  --create-folder NAME        create a folder
  --move CATALOG_ID=FOLDER    move a catalog into a folder
  --unfolder CATALOG_ID       move a catalog back to the root
  --delete-folder NAME        delete an empty folder
  --delete-catalog ID         delete a catalog and its variations

Each change succeeds or fails on its own.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()
		ctx := cmd.Context()

		ws, err := a.resolveWorkspace(ctx, args[0])
		if err != nil {
			fatalf("workspace %q: %v", args[0], err)
		}
		changes, err := reorgChanges(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		if len(changes) == 0 {
			fatalf("no changes given")
		}
		report, err := a.library.ApplyChanges(ctx, ws.ID, changes)
		if err != nil {
			fatalf("%v", err)
		}
		if a.asJSON {
			printJSON(report)
			return
		}
		if printReport(report) {
			os.Exit(1)
		}
	},
}

// reorgChanges builds the change-set from flags: folder creations first,
// then moves, then deletions.
func reorgChanges(cmd *cobra.Command) ([]library.Change, error) {
	var changes []library.Change
	creates, _ := cmd.Flags().GetStringArray("create-folder")
	for _, name := range creates {
		changes = append(changes, library.Change{Kind: library.FolderCreated, Folder: name})
	}
	moves, _ := cmd.Flags().GetStringArray("move")
	for _, m := range moves {
		id, folder, ok := strings.Cut(m, "=")
		if !ok || id == "" || folder == "" {
			return nil, fmt.Errorf("--move expects CATALOG_ID=FOLDER, got %q", m)
		}
		changes = append(changes, library.Change{Kind: library.CatalogMovedToFolder, CatalogID: id, Folder: folder})
	}
	unfolders, _ := cmd.Flags().GetStringArray("unfolder")
	for _, id := range unfolders {
		changes = append(changes, library.Change{Kind: library.CatalogRemovedFromFolder, CatalogID: id})
	}
	deletes, _ := cmd.Flags().GetStringArray("delete-catalog")
	for _, id := range deletes {
		changes = append(changes, library.Change{Kind: library.CatalogDeleted, CatalogID: id})
	}
	folders, _ := cmd.Flags().GetStringArray("delete-folder")
	for _, name := range folders {
		changes = append(changes, library.Change{Kind: library.FolderDeleted, Folder: name})
	}
	return changes, nil
}

var statusCmd = &cobra.Command{
	Use:     "status [project-path|project-id]",
	GroupID: "library",
	Short:   "Show unpublished changes and library updates for a project",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()
		ctx := cmd.Context()

		arg := ""
		if len(args) > 0 {
			arg = args[0]
		}
		p, err := a.resolveProject(ctx, arg)
		if err != nil {
			fatalf("%v", err)
		}
		st, err := a.library.CheckProjectForUpdates(ctx, p.ID)
		if err != nil {
			fatalf("%v", err)
		}
		if a.asJSON {
			printJSON(st)
			return
		}
		fmt.Printf("\n%s %s\n\n", ui.RenderHeader("Status"), p.Path)
		for _, r := range st.Resources {
			marks := []string{}
			if r.HasUnpublishedChanges {
				marks = append(marks, ui.RenderWarn("modified"))
			}
			if r.HasUpdates {
				marks = append(marks, ui.RenderAccent("update available"))
			}
			if len(marks) == 0 {
				marks = append(marks, ui.RenderMuted("up to date"))
			}
			fmt.Printf("  %s  %s\n", r.RelativePath, strings.Join(marks, ", "))
		}
		fmt.Printf("\n  %d resources, %d with updates\n", len(st.Resources), st.Updates)
		printReport(library.BatchReport{Failed: st.Report.Failed, Warnings: st.Report.Warnings})
	},
}

func init() {
	workspaceAddCmd.Flags().String("name", "", "Display name (default owner/repo)")
	workspaceCmd.AddCommand(workspaceAddCmd)
	workspaceCmd.AddCommand(workspaceListCmd)

	publishCmd.Flags().StringP("workspace", "w", "", "Workspace id or owner/repo")
	publishCmd.Flags().String("overwrite", "", "Variation id to overwrite instead of adding a new one")
	publishCmd.Flags().String("tag", "", "Version tag for the variation")
	_ = publishCmd.MarkFlagRequired("workspace")

	pullCmd.Flags().StringP("project", "p", "", "Project path or id (default: working directory)")
	pullCmd.Flags().String("target", "", "Project-relative destination (default .bluekit/<type>/<file>)")
	pullCmd.Flags().Bool("overwrite", false, "Replace an existing file")

	reorgCmd.Flags().StringArray("create-folder", nil, "Folder to create")
	reorgCmd.Flags().StringArray("move", nil, "CATALOG_ID=FOLDER move")
	reorgCmd.Flags().StringArray("unfolder", nil, "Catalog to move back to the root")
	reorgCmd.Flags().StringArray("delete-catalog", nil, "Catalog to delete")
	reorgCmd.Flags().StringArray("delete-folder", nil, "Folder to delete")

	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(catalogsCmd)
	rootCmd.AddCommand(reorgCmd)
	rootCmd.AddCommand(statusCmd)
}
