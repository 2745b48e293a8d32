package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/legacy"
	"github.com/bluekit-app/bluekit/internal/project"
	"github.com/bluekit-app/bluekit/internal/ui"
)

var scanCmd = &cobra.Command{
	Use:     "scan [project-path|project-id]",
	GroupID: "projects",
	Short:   "Reconcile a project's artifacts into the index",
	Long: `Scan the artifact subdirectories of a project's .bluekit directory and
reconcile them with the resource index.

A directory that is not registered yet is registered first, with its
.bluekit layout created when missing.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()
		ctx := cmd.Context()

		arg := ""
		if len(args) > 0 {
			arg = args[0]
		}
		p, err := a.resolveProject(ctx, arg)
		if errors.Is(err, apperr.ErrNotFound) {
			registerAndReport(ctx, a, arg)
			return
		}
		if err != nil {
			fatalf("%v", err)
		}

		res, err := a.scanner.ScanProject(ctx, p.ID, p.Path)
		if err != nil {
			fatalf("scanning %s: %v", p.Path, err)
		}
		if a.asJSON {
			printJSON(res)
			return
		}
		fmt.Printf("%s Scanned %s\n", ui.RenderPass("✓"), p.Path)
		fmt.Printf("   Created: %d  Updated: %d  Deleted: %d  Skipped: %d\n", res.Created, res.Updated, res.Deleted, res.Skipped)
	},
}

func registerAndReport(ctx context.Context, a *app, arg string) {
	path := arg
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fatalf("%v", err)
	}
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		fatalf("%s is neither a project id nor a directory", path)
	}
	res, err := a.projects.CreateProject(ctx, project.CreateRequest{Path: abs})
	if err != nil {
		fatalf("registering %s: %v", abs, err)
	}
	if a.asJSON {
		printJSON(res)
		return
	}
	fmt.Printf("%s Registered %s (%s)\n", ui.RenderPass("✓"), res.Project.Name, res.Project.ID)
	fmt.Printf("   Created: %d  Updated: %d  Deleted: %d\n", res.Scan.Created, res.Scan.Updated, res.Scan.Deleted)
}

var projectsCmd = &cobra.Command{
	Use:     "projects",
	GroupID: "projects",
	Short:   "List registered projects",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()

		projects, err := a.store.ListProjects(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if a.asJSON {
			printJSON(projects)
			return
		}
		if len(projects) == 0 {
			fmt.Printf("%s No projects registered\n", ui.RenderWarn("⚠"))
			return
		}
		for _, p := range projects {
			fmt.Printf("%s  %s\n", ui.RenderAccent(p.Name), ui.RenderMuted(p.ID))
			fmt.Printf("   %s\n", p.Path)
			if p.GitBranch != "" {
				fmt.Printf("   %s @ %s\n", p.GitBranch, p.GitURL)
			}
		}
	},
}

var importRegistryCmd = &cobra.Command{
	Use:     "import-registry",
	GroupID: "projects",
	Short:   "Import projects from the legacy projectRegistry.json",
	Long: `Read the legacy JSON project registry and register every project in it.

Entries whose directory no longer exists are reported and skipped.
Re-importing is safe: existing projects keep their ids.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()

		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			file = a.cfg.RegistryPath()
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		res, err := legacy.Import(cmd.Context(), a.store, legacy.ImportOptions{
			Registry: file,
			DryRun:   dryRun,
			Backup:   backup,
			Logger:   a.logs.New("legacy"),
		})
		if err != nil {
			fatalf("importing %s: %v", file, err)
		}
		if a.asJSON {
			printJSON(res)
			return
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d new, %d updated from %s\n", ui.RenderPass("✓"), verb, res.Imported, res.Updated, file)
		if res.BackupCreated != "" {
			fmt.Printf("   Backup: %s\n", res.BackupCreated)
		}
		for _, m := range res.Missing {
			fmt.Printf("   %s missing: %s\n", ui.RenderWarn("⚠"), m)
		}
		for _, e := range res.Errors {
			fmt.Printf("   %s %s\n", ui.RenderFail("✗"), e)
		}
	},
}

func init() {
	importRegistryCmd.Flags().String("file", "", "Registry file (default <home>/projectRegistry.json)")
	importRegistryCmd.Flags().Bool("dry-run", false, "Report what would be imported without writing")
	importRegistryCmd.Flags().Bool("backup", false, "Copy the registry aside before importing")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(importRegistryCmd)
}
