package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/config"

	// Register store backends.
	_ "github.com/kozaktomas/photo-dedup/internal/store/postgres"
	_ "github.com/kozaktomas/photo-dedup/internal/store/sqlite"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "photo-dedup",
	Short: "Find duplicate photos in a PhotoPrism library",
	Long: `Photo Dedup scans a PhotoPrism instance, fingerprints every photo with
perceptual hashes and groups exact and near duplicates. Scans are
incremental, only new or modified photos are reprocessed.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file overriding environment values")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig builds the effective config from environment, optional
// config file and validation.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
