package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/beads-bridge/internal/diagram"
	"github.com/steveyegge/beads-bridge/internal/types"
)

var placeCmd = &cobra.Command{
	Use:   "place <external-ref>",
	Short: "Place a dependency diagram on one external entity",
	Long: `Render the dependency diagram for the epics linked to an entity and
place it in the entity's description, inside the bridge-managed marker
section. Re-running against unchanged state is a no-op.

Examples:
  bd-bridge place github:acme/app#5
  bd-bridge place shortcut:12345 --snapshot --message "pre-release state"
  bd-bridge place github:acme/app#5 --no-description --snapshot`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		snapshot, _ := cmd.Flags().GetBool("snapshot")
		noDescription, _ := cmd.Flags().GetBool("no-description")
		message, _ := cmd.Flags().GetString("message")

		ref, err := types.ParseExternalRef(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		store, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}
		placer, err := newPlacer(store)
		if err != nil {
			fatalf("%v", err)
		}

		result := placer.Place(cmd.Context(), ref, diagram.PlaceOptions{
			UpdateDescription: !noDescription,
			CreateSnapshot:    snapshot,
			Trigger:           "manual",
			Message:           message,
		})
		if result.Err != nil {
			fatalf("placing diagram: %v", result.Err)
		}

		switch {
		case result.DescriptionUpdated:
			fmt.Printf("Updated %s (%d items)\n", ref, result.ItemsSynced)
		case result.SnapshotPosted:
			fmt.Printf("Posted snapshot to %s (%d items)\n", ref, result.ItemsSynced)
		default:
			fmt.Printf("%s already up to date\n", ref)
		}
		if result.EntityURL != "" {
			fmt.Println(result.EntityURL)
		}
	},
}

func init() {
	placeCmd.Flags().Bool("snapshot", false, "post the diagram as a comment")
	placeCmd.Flags().Bool("no-description", false, "skip the in-place description update")
	placeCmd.Flags().String("message", "", "free-form context for the snapshot comment")
	rootCmd.AddCommand(placeCmd)
}
