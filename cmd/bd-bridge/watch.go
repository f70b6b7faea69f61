package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/beads-bridge/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the beads store and sync on every change",
	Long: `Watch .beads/issues.jsonl and run a sync whenever it settles.

Rapid successive writes (a burst of bd commands) are debounced into a
single sync. Runs until interrupted.

Example:
  bd-bridge watch
  bd-bridge watch --snapshots`,
	Run: func(cmd *cobra.Command, args []string) {
		snapshots, _ := cmd.Flags().GetBool("snapshots")

		o, err := newOrchestrator(snapshots)
		if err != nil {
			fatalf("%v", err)
		}

		// In watch mode the working copy is ahead of HEAD, so diff
		// against HEAD rather than the configured historical ref.
		w, err := watch.New(watch.Config{
			RepoDir:          cfg.RepoDir,
			JSONLPath:        cfg.JSONLPath,
			DebounceInterval: cfg.Watch.Debounce,
			Logger:           logger,
		}, func(ctx context.Context) error {
			results, err := o.Sync(ctx, "HEAD")
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					logger.Printf("%s: sync failed: %v", r.ExternalEntity, r.Err)
				}
			}
			return nil
		})
		if err != nil {
			fatalf("%v", err)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Println("Watching for changes. Press Ctrl+C to stop...")
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			fatalf("watch failed: %v", err)
		}
		fmt.Println("\nStopped.")
	},
}

func init() {
	watchCmd.Flags().Bool("snapshots", false, "post a snapshot comment per entity on every sync")
	rootCmd.AddCommand(watchCmd)
}
