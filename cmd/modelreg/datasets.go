package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"modelreg/internal/provider/dataset"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Inspect dataset providers",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the datasets in the configured directory",
	RunE:  runDatasetsList,
}

var datasetsCheckCmd = &cobra.Command{
	Use:   "check FILE...",
	Short: "Validate dataset files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDatasetsCheck,
}

func init() {
	datasetsCmd.AddCommand(datasetsListCmd)
	datasetsCmd.AddCommand(datasetsCheckCmd)
	rootCmd.AddCommand(datasetsCmd)
}

func runDatasetsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(rootFlag)
	if err != nil {
		return err
	}
	dir := resolve(rootFlag, cfg.Datasets.Dir)
	datasets, err := dataset.LoadDir(dir)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(datasets) == 0 {
		fmt.Fprintf(w, "No datasets in %s\n", dir)
		return nil
	}
	for _, ds := range datasets {
		fmt.Fprintf(w, "%-20s %-24s %5d models  coverage %s\n", ds.Name(), ds.Category(), ds.Len(), ds.Coverage())
	}
	return nil
}

func runDatasetsCheck(cmd *cobra.Command, args []string) error {
	var failed int
	for _, path := range args {
		ds, err := dataset.Load(path)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", filepath.Base(path), err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s: %s, %d models\n", filepath.Base(path), ds.Name(), ds.Len())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dataset files are invalid", failed, len(args))
	}
	return nil
}
