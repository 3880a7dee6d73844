package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/dedup"
	"github.com/kozaktomas/photo-dedup/internal/report"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write an HTML report of the duplicate groups",
	Long: `Report renders the duplicate groups from the last scan into a standalone
HTML file for manual review.

Examples:
  # Write report.html in the current directory
  photo-dedup report

  # Custom location and keep policy
  photo-dedup report --output /tmp/dups.html --keep largest`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("output", "report.html", "Report file location")
	reportCmd.Flags().String("keep", string(dedup.KeepOldest), "Which copy to keep: oldest, newest or largest")
}

func runReport(cmd *cobra.Command, args []string) error {
	output := mustGetString(cmd, "output")

	policy, err := dedup.ParseKeepPolicy(mustGetString(cmd, "keep"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(&cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	groups, err := st.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	records, err := st.ListPhotos(ctx)
	if err != nil {
		return fmt.Errorf("failed to list photos: %w", err)
	}

	page, err := report.Build(groups, records, policy, cfg.Source.URL)
	if err != nil {
		return err
	}

	f, err := os.Create(output) //nolint:gosec // operator-chosen output location
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := report.Render(f, page); err != nil {
		return err
	}

	fmt.Printf("Report written to %s (%d groups, %d removable copies)\n",
		output, len(page.Groups), page.ExtraCopies)
	return nil
}
