package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/dedup"
	"github.com/kozaktomas/photo-dedup/internal/source"
	"github.com/kozaktomas/photo-dedup/internal/source/prismdb"
	"github.com/kozaktomas/photo-dedup/internal/store"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the library and rebuild duplicate groups",
	Long: `Scan lists the whole library, fingerprints photos that are new or have
changed since the last scan, and rebuilds the duplicate groups.

Examples:
  # Incremental scan with defaults
  photo-dedup scan

  # High-confidence matches only
  photo-dedup scan --strict

  # Custom threshold, more workers
  photo-dedup scan --threshold 6 --workers 16

  # Reprocess everything from scratch
  photo-dedup scan --full

  # Preview without writing to the store
  photo-dedup scan --dry-run

  # JSON output for scripting
  photo-dedup scan --json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Int("threshold", constants.DefaultThreshold, "Maximum Hamming distance treated as similar")
	scanCmd.Flags().Bool("strict", false, fmt.Sprintf("High-confidence matching only (threshold %d)", constants.StrictThreshold))
	scanCmd.Flags().Int("workers", constants.WorkerPoolSize, "Number of parallel fetch workers")
	scanCmd.Flags().Int("page-size", constants.DefaultPageSize, "Library listing page size")
	scanCmd.Flags().Bool("full", false, "Reprocess every photo regardless of scan state")
	scanCmd.Flags().Bool("dry-run", false, "Compute groups without writing to the store")
	scanCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// ScanResult is the scan summary printed on completion.
type ScanResult struct {
	Success       bool   `json:"success"`
	Listed        int    `json:"listed"`
	Pending       int    `json:"pending"`
	Processed     int    `json:"processed"`
	Undecodable   int    `json:"undecodable"`
	Missing       int    `json:"missing"`
	Errors        int    `json:"errors"`
	Photos        int    `json:"photos"`
	Groups        int    `json:"groups"`
	DryRun        bool   `json:"dry_run,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Flags beat environment and config file, but only when set.
	cfg.Scan.Threshold = resolveThreshold(cfg.Scan.Threshold,
		cmd.Flags().Changed("threshold"), mustGetInt(cmd, "threshold"),
		mustGetBool(cmd, "strict"))
	if cmd.Flags().Changed("workers") {
		cfg.Scan.Workers = mustGetInt(cmd, "workers")
	}
	if cmd.Flags().Changed("page-size") {
		cfg.Scan.PageSize = mustGetInt(cmd, "page-size")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, cleanup, err := buildSource(cfg, jsonOutput)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := store.Open(&cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	opts := dedup.Options{
		Threshold: cfg.Scan.Threshold,
		Workers:   cfg.Scan.Workers,
		Full:      mustGetBool(cmd, "full"),
		DryRun:    mustGetBool(cmd, "dry-run"),
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		opts.Progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Fingerprinting"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("photos"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Add(1)
		}
	}

	runResult, err := dedup.New(st, src).Run(ctx, opts)
	if bar != nil {
		fmt.Println()
	}
	if err != nil {
		return err
	}

	result := ScanResult{
		Success:       true,
		Listed:        runResult.Listed,
		Pending:       runResult.Pending,
		Processed:     runResult.Processed,
		Undecodable:   runResult.Undecodable,
		Missing:       runResult.Missing,
		Errors:        runResult.Failed,
		Photos:        runResult.Photos,
		Groups:        runResult.Groups,
		DryRun:        opts.DryRun,
		DurationMs:    runResult.Duration.Milliseconds(),
		DurationHuman: formatDuration(runResult.Duration),
	}

	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("\nScan complete!")
	if result.DryRun {
		fmt.Println("  (dry run, nothing was written)")
	}
	fmt.Printf("  Library photos: %d\n", result.Listed)
	fmt.Printf("  Processed:      %d\n", result.Processed)
	if result.Undecodable > 0 {
		fmt.Printf("  Undecodable:    %d\n", result.Undecodable)
	}
	if result.Missing > 0 {
		fmt.Printf("  Missing:        %d\n", result.Missing)
	}
	if result.Errors > 0 {
		fmt.Printf("  Errors:         %d\n", result.Errors)
	}
	fmt.Printf("  Duplicate groups: %d\n", result.Groups)
	fmt.Printf("  Duration:       %s\n", result.DurationHuman)

	return nil
}

// buildSource connects to the library backend. With a database DSN the
// listing comes straight from MariaDB, thumbnails still go over HTTP.
func buildSource(cfg *config.Config, quiet bool) (source.Source, func(), error) {
	if !quiet {
		fmt.Println("Connecting to library...")
	}

	client, err := source.NewClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to library: %w", err)
	}

	if cfg.Source.DatabaseDSN == "" {
		return client, func() { _ = client.Logout() }, nil
	}

	lister, err := prismdb.NewLister(cfg.Source.DatabaseDSN)
	if err != nil {
		_ = client.Logout()
		return nil, nil, fmt.Errorf("failed to connect to library database: %w", err)
	}

	combined := struct {
		source.Lister
		source.ThumbnailFetcher
	}{lister, client}
	cleanup := func() {
		_ = lister.Close()
		_ = client.Logout()
	}
	return combined, cleanup, nil
}

// resolveThreshold picks the effective similarity threshold. An explicit
// --threshold value wins, --strict overrides the configured default.
func resolveThreshold(configured int, thresholdSet bool, threshold int, strict bool) int {
	if thresholdSet {
		return threshold
	}
	if strict {
		return constants.StrictThreshold
	}
	return configured
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// formatDuration formats a duration as a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
