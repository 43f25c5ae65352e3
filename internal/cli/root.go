// Package cli holds the certreg command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "certreg",
		Short: "certreg - credential registry service",
		Long: `certreg keeps a registry of approved issuing organizations and the
immutable certificates they issue, and lets anyone verify a certificate by id.

Configuration precedence (highest to lowest):
  1. Command-line flags
  2. Environment variables (CERTREG_*)
  3. Configuration file
  4. Built-in defaults`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: $CERTREG_CONFIG)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewTokenCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return os.Getenv("CERTREG_CONFIG")
}
