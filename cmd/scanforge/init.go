package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanforge/scanforge/internal/config"
	"github.com/scanforge/scanforge/internal/home"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the scanforge home directory",
	Long: `Create the scanforge home directory (inbox, results) and write a
default config.yaml. Existing config is left alone unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		if h.ConfigExists() && !initForce {
			fmt.Fprintf(os.Stderr, "config already exists at %s (use --force to overwrite)\n", h.ConfigPath())
			return nil
		}

		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("initialized %s\n", h.Path())
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
