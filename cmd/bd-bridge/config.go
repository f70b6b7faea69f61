package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/beads-bridge/internal/bridgecfg"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage bridge configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter .beads/bridge.yaml",
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgFile
		if path == "" {
			path = filepath.Join(cfg.RepoDir, bridgecfg.DefaultConfigPath)
		}
		if err := bridgecfg.WriteDefault(path); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Wrote %s\n", path)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
