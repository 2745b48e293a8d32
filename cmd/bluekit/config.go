package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bluekit-app/bluekit/internal/config"
	"github.com/bluekit-app/bluekit/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config.toml into the home directory",
	Run: func(cmd *cobra.Command, args []string) {
		home, _ := cmd.Flags().GetString("home")
		if home == "" {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				fatalf("loading config: %v", err)
			}
			home = cfg.Home
		}
		path, err := config.Init(home)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			fatalf("loading config: %v", err)
		}
		if cfg.GitHub.Token != "" {
			cfg.GitHub.Token = "********"
		}
		printJSON(cfg)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
