package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/steveyegge/beads-bridge/internal/mapping"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage epic-to-entity mappings",
	Long: `Manage the durable mappings between beads epics and external
tracker entities.

Mappings live as JSON files under .beads/bridge/mappings and are meant
to be committed alongside the issue store.`,
}

var mappingCreateCmd = &cobra.Command{
	Use:   "create <external-ref>",
	Short: "Create a mapping for an external entity",
	Long: `Create a mapping linking one external entity to one or more epics.

The external reference takes the form "github:owner/repo#number" or
"shortcut:<story-id>". Creating a second mapping for the same entity
fails; mappings are never silently overwritten.

Examples:
  bd-bridge mapping create github:acme/app#5 --epic bd-12
  bd-bridge mapping create shortcut:12345 --epic bd-12 --epic bd-40 --repository acme/app`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		epics, _ := cmd.Flags().GetStringArray("epic")
		repository, _ := cmd.Flags().GetString("repository")
		label, _ := cmd.Flags().GetString("label")

		store, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		params := mapping.CreateParams{
			ExternalEntity:         args[0],
			ExternalRepresentation: label,
		}
		for _, epicID := range epics {
			params.Epics = append(params.Epics, mapping.EpicSeed{
				Repository: repository,
				EpicID:     epicID,
			})
		}

		m, err := store.Create(params)
		if err != nil {
			fatalf("creating mapping: %v", err)
		}
		fmt.Printf("Created mapping %s for %s (%d epics)\n", m.ID, m.ExternalEntity, len(m.LinkedEpics))
	},
}

var mappingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mappings",
	Run: func(cmd *cobra.Command, args []string) {
		repository, _ := cmd.Flags().GetString("repository")
		status, _ := cmd.Flags().GetString("status")
		conflicts, _ := cmd.Flags().GetBool("conflicts")
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		query := mapping.Query{
			Repository: repository,
			Status:     mapping.Status(status),
			Limit:      limit,
		}
		if conflicts {
			yes := true
			query.HasConflict = &yes
		}

		mappings, err := store.List(query)
		if err != nil {
			fatalf("listing mappings: %v", err)
		}
		if len(mappings) == 0 {
			fmt.Println("No mappings.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENTITY\tSTATUS\tEPICS\tPROGRESS\tLAST SYNC")
		for _, m := range mappings {
			lastSync := "never"
			if m.LastSyncedAt != nil {
				lastSync = m.LastSyncedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\n",
				m.ExternalEntity, m.Status, len(m.LinkedEpics),
				m.AggregatedMetrics.CompletedIssues, m.AggregatedMetrics.TotalIssues,
				lastSync)
		}
		w.Flush()
	},
}

var mappingShowCmd = &cobra.Command{
	Use:   "show <external-ref>",
	Short: "Show a mapping's full record as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		m, err := store.FindByExternalEntity(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if m == nil {
			fatalf("no mapping for %s", args[0])
		}

		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(string(data))
	},
}

var mappingDeleteCmd = &cobra.Command{
	Use:   "delete <external-ref>",
	Short: "Delete a mapping",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		m, err := store.FindByExternalEntity(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if m == nil {
			fatalf("no mapping for %s", args[0])
		}
		if err := store.Delete(m.ID); err != nil {
			fatalf("deleting mapping: %v", err)
		}
		fmt.Printf("Deleted mapping for %s\n", args[0])
	},
}

var mappingResolveCmd = &cobra.Command{
	Use:   "resolve <external-ref> <strategy>",
	Short: "Resolve a conflicted mapping",
	Long: `Resolve a mapping stuck in conflict state.

Strategies:
  github_wins  accept the external tracker's state
  beads_wins   accept the beads store's state
  merged       the conflict was reconciled by hand

The resolution is recorded in the mapping's sync history.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		m, err := store.FindByExternalEntity(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if m == nil {
			fatalf("no mapping for %s", args[0])
		}

		resolved, err := store.ResolveConflict(m.ID, mapping.Resolution(args[1]), mapping.UpdateParams{})
		if err != nil {
			fatalf("resolving conflict: %v", err)
		}
		fmt.Printf("Resolved conflict on %s via %s (status: %s)\n",
			resolved.ExternalEntity, args[1], resolved.Status)
	},
}

var mappingStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate mapping statistics",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		stats, err := store.GetStats()
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("Mappings:        %d\n", stats.Total)
		for status, count := range stats.ByStatus {
			fmt.Printf("  %-14s %d\n", status+":", count)
		}
		fmt.Printf("Conflicts:       %d\n", stats.Conflicts)
		fmt.Printf("Synced (24h):    %d\n", stats.SyncedLast24)
		fmt.Printf("Success rate:    %.0f%%\n", stats.SyncSuccessRate*100)
		if len(stats.Repositories) > 0 {
			fmt.Printf("Repositories:    %v\n", stats.Repositories)
		}
	},
}

var mappingRebuildIndexCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the mapping index from the mapping files",
	Long: `Rebuild index.json by scanning every mapping file.

The index is a derived cache; use this after hand-editing or merging
mapping files.`,
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}
		if err := store.RebuildIndex(); err != nil {
			fatalf("rebuilding index: %v", err)
		}
		fmt.Println("Index rebuilt.")
	},
}

func init() {
	mappingCreateCmd.Flags().StringArray("epic", nil, "epic ID to link (repeatable)")
	mappingCreateCmd.Flags().String("repository", "", "beads repository the epics live in")
	mappingCreateCmd.Flags().String("label", "", "human-readable label for the entity")

	mappingListCmd.Flags().String("repository", "", "filter by github repository")
	mappingListCmd.Flags().String("status", "", "filter by mapping status")
	mappingListCmd.Flags().Bool("conflicts", false, "only conflicted mappings")
	mappingListCmd.Flags().Int("limit", 0, "cap the number of results")

	mappingCmd.AddCommand(mappingCreateCmd)
	mappingCmd.AddCommand(mappingListCmd)
	mappingCmd.AddCommand(mappingShowCmd)
	mappingCmd.AddCommand(mappingDeleteCmd)
	mappingCmd.AddCommand(mappingResolveCmd)
	mappingCmd.AddCommand(mappingStatsCmd)
	mappingCmd.AddCommand(mappingRebuildIndexCmd)
	rootCmd.AddCommand(mappingCmd)
}
