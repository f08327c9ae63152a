// Package cmd defines the extractord command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extractord",
		Short: "Content extraction service for archived web pages.",
		Long: `extractord turns archived page snapshots into clean structured content.
It runs a chain of extraction strategies behind per-strategy circuit
breakers, schedules work by priority with retry and dead-lettering, and
refuses new work when system resources run low.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; env vars apply either way)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
