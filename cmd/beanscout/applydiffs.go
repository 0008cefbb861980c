package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"beanscout/catalog"
)

var applyDir string

var applyDiffsCmd = &cobra.Command{
	Use:   "apply-diffs",
	Short: "Merge pending diff files into their latest full records",
	Long: "Walk the dataset (or --dir) for .diffjson files and merge each into the " +
		"latest full record for its url. Invalid files and diffs for unknown " +
		"products are skipped with a warning; consumed diff files are removed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dataset := catalog.NewDataset(cfg.DataDir)
		report, err := catalog.Apply(cmd.Context(), dataset, applyDir)
		if err != nil {
			return err
		}

		fmt.Printf("Diff files found:    %d\n", report.Found)
		fmt.Printf("Applied:             %d\n", report.Applied)
		fmt.Printf("Superseded:          %d\n", report.Superseded)
		fmt.Printf("Skipped (unknown):   %d\n", report.SkippedUnknown)
		fmt.Printf("Skipped (invalid):   %d\n", report.SkippedInvalid)
		for path, reason := range report.Failures {
			fmt.Printf("  failed %s: %s\n", path, reason)
		}
		return nil
	},
}

func init() {
	applyDiffsCmd.Flags().StringVar(&applyDir, "dir", "", "Directory to scan for diff files (defaults to the dataset dir)")
	rootCmd.AddCommand(applyDiffsCmd)
}
