package main

import (
	"github.com/spf13/cobra"

	"github.com/scanforge/scanforge/internal/api"
	"github.com/scanforge/scanforge/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "scanforge",
	Short: "Large-document OCR pipeline with chunked distributed processing",
	Long: `Scanforge splits large scanned documents into page-range chunks,
runs OCR on each chunk with retry and crash recovery, and reassembles
the per-chunk output into one result with global page numbering.

The pipeline includes:
  - Page-range splitting with a minimum tail-chunk size
  - A chunk ledger with compare-and-swap state transitions
  - Distributed chunk locks and a shared OCR rate limiter
  - Merge validation that rejects incomplete or inconsistent output`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.scanforge/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "scanforge home directory (default: ~/.scanforge)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
