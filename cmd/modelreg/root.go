package main

import (
	"context"

	"github.com/spf13/cobra"

	"modelreg/internal/version"
)

var (
	// rootFlag is the directory holding .modelreg/
	rootFlag string
)

var rootCmd = &cobra.Command{
	Use:   "modelreg",
	Short: "modelreg - region-bounded model registry",
	Long: `modelreg answers queries for models over regions of an interval space.
Answers come from a local cache when it already holds the region and from
dataset providers otherwise; overlapping queries share one fetch.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("modelreg version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".", "Directory containing .modelreg/")
}

// commandContext returns the command's context, or a background context
// when the command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
