// Command bluekit is the BlueKit backend: it indexes project artifacts,
// syncs them with remote library workspaces and serves the desktop app
// over a local websocket.
package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bluekit",
	Short: "BlueKit artifact index, library sync and event server",
	Long: `BlueKit keeps a local index of the artifacts under each project's
.bluekit directory and syncs them with remote library workspaces.

Settings come from flags, BLUEKIT_* environment variables and
<home>/config.toml, in that order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "projects", Title: "Projects:"},
		&cobra.Group{ID: "library", Title: "Library:"},
		&cobra.Group{ID: "server", Title: "Server:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.String("home", "", "BlueKit home directory (default $HOME/.bluekit)")
	pf.String("db", "", "Database path (default <home>/bluekit.db)")
	pf.String("token", "", "GitHub token (default $BLUEKIT_GITHUB_TOKEN)")
	pf.String("branch", "", "Branch library writes target (default: repository default)")
	pf.Bool("json", false, "Print results as JSON")
	pf.BoolP("verbose", "v", false, "Log to stderr as well as the log file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatalf("%v", err)
	}
}
