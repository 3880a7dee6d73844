package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/dedup"
	"github.com/kozaktomas/photo-dedup/internal/store"
	"github.com/kozaktomas/photo-dedup/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the duplicate review UI",
	Long: `Serve starts a web server with the HTML review report and a JSON API
over the duplicate groups from the last scan.

Examples:
  # Serve on the default port
  photo-dedup serve

  # Custom port and keep policy
  photo-dedup serve --port 9090 --keep newest`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("keep", string(dedup.KeepOldest), "Which copy to mark as kept: oldest, newest or largest")
}

func runServe(cmd *cobra.Command, args []string) error {
	port := mustGetInt(cmd, "port")

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

	server := web.NewServer(cfg, st, policy, port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
