package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"modelreg/internal/model"
)

var (
	cacheFormat   string
	cacheCategory string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the model cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and provider statistics",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached models",
	Long: `Remove cached models and recorded satisfactions of a category.
Wildcards clear every matching category; no --category clears everything.`,
	RunE: runCacheClear,
}

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheFormat, "format", "human", "Output format (human, json, yaml)")
	cacheClearCmd.Flags().StringVar(&cacheCategory, "category", "*/*/*", "Category to clear")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(rootFlag)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.registry.Stats(commandContext(cmd))
	if err != nil {
		return err
	}
	out, err := FormatResponse(&stats, OutputFormat(cacheFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	a, err := openApp(rootFlag)
	if err != nil {
		return err
	}
	defer a.close()

	cat := model.ParseCategory(cacheCategory)
	if err := a.registry.ClearCache(commandContext(cmd), cat); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", cat)
	return nil
}
