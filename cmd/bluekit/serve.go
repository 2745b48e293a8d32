package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bluekit-app/bluekit/internal/apperr"
	"github.com/bluekit-app/bluekit/internal/artifact"
	"github.com/bluekit-app/bluekit/internal/command"
	"github.com/bluekit-app/bluekit/internal/events"
	"github.com/bluekit-app/bluekit/internal/ui"
	"github.com/bluekit-app/bluekit/internal/watcher"
)

// startupScanLimit bounds concurrent project scans at startup.
const startupScanLimit = 4

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the event server for the desktop app",
	Long: `Start the local websocket server the desktop app talks to.

Requests arrive as {"id","command","args"} and are answered with
{"id","result"} or {"id","error":{"kind","message"}}. Watcher
notifications are pushed as {"type":"event","name","payload","timestamp"}.

On startup every registered project is rescanned and the database and
project registry files are watched.

Endpoints:
  ws://<addr>/ws
  http://<addr>/health`,
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, true)
		defer a.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.cfg.Server.Addr
		}
		noWatch, _ := cmd.Flags().GetBool("no-watch")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		server := events.NewServer(&events.Config{
			Addr:     addr,
			Classify: apperr.Kind,
			Logger:   a.logs.New("events"),
		})
		emitter := command.NewScanningEmitter(server, a.store, a.scanner, a.cache, a.logs.New("scan"))
		fleetConfig := a.cfg.WatcherSettings()
		fleetConfig.Logger = a.logs.New("watcher")
		fleet := watcher.NewFleet(emitter, fleetConfig)
		defer fleet.StopAll()

		server.SetDispatcher(command.NewRouter(command.Config{
			Store:        a.store,
			Library:      a.library,
			Projects:     a.projects,
			Scanner:      a.scanner,
			Fleet:        fleet,
			DatabasePath: a.cfg.Database.Path,
			Logger:       a.logs.New("command"),
		}))

		if err := server.Start(); err != nil {
			fatalf("starting event server: %v", err)
		}
		fmt.Printf("%s Event server listening on %s\n", ui.RenderAccent("🚀"), server.Addr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", server.Addr())
		fmt.Printf("   Database:  %s\n", a.cfg.Database.Path)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return rescanProjects(gctx, a)
		})
		if !noWatch {
			g.Go(func() error {
				return watchDefaults(a, fleet)
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			a.logs.New("serve").Printf("WARNING: Startup tasks failed: %v", err)
		}

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		fleet.StopAll()
		if err := server.Stop(); err != nil {
			fatalf("stopping event server: %v", err)
		}
		fmt.Printf("%s Stopped\n", ui.RenderPass("✓"))
	},
}

// rescanProjects reconciles every registered project. A project that
// fails to scan is logged and skipped.
func rescanProjects(ctx context.Context, a *app) error {
	projects, err := a.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	logger := a.logs.New("serve")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(startupScanLimit)
	for _, p := range projects {
		g.Go(func() error {
			if _, err := os.Stat(filepath.Join(p.Path, artifact.DirName)); err != nil {
				logger.Printf("WARNING: Skipping project %s: %v", p.Name, err)
				return nil
			}
			res, err := a.scanner.ScanProject(gctx, p.ID, p.Path)
			if err != nil {
				logger.Printf("WARNING: Failed to scan %s: %v", p.Path, err)
				return nil
			}
			if !res.Unchanged() {
				logger.Printf("Rescanned %s: %d created, %d updated, %d deleted", p.Name, res.Created, res.Updated, res.Deleted)
			}
			return nil
		})
	}
	return g.Wait()
}

// watchDefaults watches the database and, when present, the legacy
// project registry.
func watchDefaults(a *app, fleet *watcher.Fleet) error {
	if err := fleet.WatchFile(a.cfg.Database.Path, watcher.ProjectsDatabaseEvent); err != nil {
		return err
	}
	registry := a.cfg.RegistryPath()
	if _, err := os.Stat(registry); err == nil {
		if err := fleet.WatchFile(registry, watcher.ProjectRegistryEvent); err != nil {
			return err
		}
	}
	return nil
}

var watchCmd = &cobra.Command{
	Use:     "watch [project-path|project-id]",
	GroupID: "projects",
	Short:   "Watch a project's artifacts and keep the index current",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, false)
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		arg := ""
		if len(args) > 0 {
			arg = args[0]
		}
		p, err := a.resolveProject(ctx, arg)
		if err != nil {
			fatalf("%v", err)
		}

		emitter := command.NewScanningEmitter(printingEmitter{}, a.store, a.scanner, a.cache, a.logs.New("scan"))
		fleetConfig := a.cfg.WatcherSettings()
		fleetConfig.Logger = a.logs.New("watcher")
		fleet := watcher.NewFleet(emitter, fleetConfig)
		defer fleet.StopAll()

		dir := filepath.Join(p.Path, artifact.DirName)
		if err := fleet.WatchDirectory(dir, watcher.ProjectArtifactsEvent(p.ID)); err != nil {
			fatalf("watching %s: %v", dir, err)
		}
		fmt.Printf("%s Watching %s\n", ui.RenderAccent("👀"), dir)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")
		<-ctx.Done()
	},
}

// printingEmitter prints watcher notifications to stdout.
type printingEmitter struct{}

func (printingEmitter) Emit(name string, payload any) {
	switch pl := payload.(type) {
	case watcher.ChangePayload:
		for _, p := range pl.Paths {
			fmt.Printf("  %s %s\n", ui.RenderPass("•"), p)
		}
	case watcher.ErrorPayload:
		fmt.Printf("  %s %s: %s (restart %d)\n", ui.RenderWarn("⚠"), name, pl.Error, pl.RestartCount)
	default:
		fmt.Printf("  %s\n", name)
	}
}

var _ watcher.Emitter = printingEmitter{}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default server.addr, 127.0.0.1:7430)")
	serveCmd.Flags().Bool("no-watch", false, "Do not watch the database and registry files")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}
