package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanforge/scanforge/internal/config"
	"github.com/scanforge/scanforge/internal/home"
	"github.com/scanforge/scanforge/internal/server"
)

var (
	serveHost     string
	servePort     int
	serveProvider string
	serveWatch    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scanforge server",
	Long: `Start the scanforge HTTP server.

The server exposes the document API (ingest, process, status, result)
and runs the chunk pipeline. With --watch, PDFs dropped into the home
inbox directory are ingested and processed automatically.

Backends come from config: an in-process ledger and document store by
default, Firestore and GCS when enabled.

Examples:
  scanforge serve                    # Start on the configured port
  scanforge serve --port 3000        # Start on custom port
  scanforge serve --provider openai  # Override the OCR provider
  scanforge serve --watch            # Also watch the inbox directory`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		// Create server
		srv, err := server.New(ctx, server.Config{
			Home:          h,
			ConfigManager: cm,
			Logger:        logger,
			Provider:      serveProvider,
			Host:          serveHost,
			Port:          servePort,
			Watch:         serveWatch,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "OCR provider override (tesseract, openai)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Watch the inbox directory for new PDFs")

	rootCmd.AddCommand(serveCmd)
}
