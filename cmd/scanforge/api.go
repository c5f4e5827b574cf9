package main

import (
	"github.com/spf13/cobra"

	"github.com/scanforge/scanforge/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running scanforge server via HTTP.

These commands require a running server (scanforge serve).
Use --server to specify a custom server URL.

Examples:
  scanforge api health                 # Check server health
  scanforge api documents list         # List all documents
  scanforge api documents status <id>  # Chunk progress for a document`,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Document management commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// --server lives on the root so the top-level ingest/process shortcuts
	// inherit it alongside the api tree
	rootCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8271", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Documents as subcommand group
	for _, ep := range endpoints.DocumentCommands() {
		documentsCmd.AddCommand(ep.Command(getServerURL))
	}

	apiCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(apiCmd)

	// Shortcuts for the two commands used constantly
	rootCmd.AddCommand((&endpoints.IngestEndpoint{}).Command(getServerURL))
	rootCmd.AddCommand((&endpoints.ProcessEndpoint{}).Command(getServerURL))
}
