package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/store"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List the duplicate groups from the last scan",
	Long: `Groups prints every duplicate group found by the last scan.

Examples:
  # Table output
  photo-dedup groups

  # JSON output for scripting
  photo-dedup groups --json`,
	RunE: runGroups,
}

func init() {
	rootCmd.AddCommand(groupsCmd)

	groupsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runGroups(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(&cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	groups, err := st.ListGroups(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}

	if jsonOutput {
		if groups == nil {
			groups = []store.DuplicateGroup{}
		}
		return outputJSON(groups)
	}

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found. Run a scan first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tKIND\tMEMBERS\tPHOTOS")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", g.GroupID, g.MatchKind, len(g.Members), joinMembers(g.Members))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// joinMembers keeps long groups readable in table output.
func joinMembers(members []string) string {
	const maxShown = 4
	if len(members) <= maxShown {
		out := members[0]
		for _, m := range members[1:] {
			out += ", " + m
		}
		return out
	}

	out := members[0]
	for _, m := range members[1:maxShown] {
		out += ", " + m
	}
	return fmt.Sprintf("%s, ... (%d more)", out, len(members)-maxShown)
}
