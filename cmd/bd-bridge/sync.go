package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Detect changed issues and update external trackers",
	Long: `Run one detection-to-placement pass.

The beads JSONL store is diffed against a past git revision; every
changed issue is resolved to the external entity representing it, and
each affected entity gets a refreshed dependency diagram. A failing
entity never blocks the others.

Examples:
  bd-bridge sync                    # changes since HEAD~1
  bd-bridge sync --since HEAD~5     # changes since five commits ago
  bd-bridge sync --snapshots        # also post snapshot comments`,
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		if since == "" {
			since = cfg.Sync.SinceRef
		}
		snapshots, _ := cmd.Flags().GetBool("snapshots")

		o, err := newOrchestrator(snapshots)
		if err != nil {
			fatalf("%v", err)
		}

		results, err := o.Sync(cmd.Context(), since)
		if err != nil {
			fatalf("sync failed: %v", err)
		}
		if len(results) == 0 {
			fmt.Println("Nothing to sync.")
			return
		}

		failures := 0
		for _, r := range results {
			switch {
			case r.Skipped:
				fmt.Printf("  %s: skipped (mapping in conflict)\n", r.ExternalEntity)
			case r.Err != nil:
				failures++
				fmt.Printf("  %s: FAILED: %v\n", r.ExternalEntity, r.Err)
			case r.DescriptionUpdated:
				fmt.Printf("  %s: updated (%d items)\n", r.ExternalEntity, r.ItemsSynced)
			default:
				fmt.Printf("  %s: up to date\n", r.ExternalEntity)
			}
		}
		fmt.Printf("Synced %d entities, %d failed.\n", len(results)-failures, failures)
		if failures > 0 {
			fatalf("%d of %d entities failed", failures, len(results))
		}
	},
}

func init() {
	syncCmd.Flags().String("since", "", "git ref to diff against (default from config)")
	syncCmd.Flags().Bool("snapshots", false, "post a snapshot comment per entity")
	rootCmd.AddCommand(syncCmd)
}
