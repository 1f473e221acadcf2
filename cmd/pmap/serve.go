package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/laion/papermap/internal/api"
)

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only papers API",
	Long: `Serve the read-only papers API over HTTP.

Routes:
  GET /health
  GET /api/papers?cluster_id=&limit=&sample_size=
  GET /api/papers/{id}
  GET /api/papers/{id}/nearest?limit=15
  GET /api/search?q=...&limit=100
  GET /api/clusters
  GET /api/temporal-data?min_year=1990&max_year=2025
  GET /api/stats
  GET /metrics

Nearest papers are read from the precomputed lists; run 'pmap nearest'
first. The server stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	mustValidateConfig()

	db := mustOpenDatabase()
	defer db.Close()

	server := api.NewServer(db, cfg.Server, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			exitWithError(ExitError, "serving: %v", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		exitWithError(ExitError, "shutting down: %v", err)
	}
	return <-errCh
}
