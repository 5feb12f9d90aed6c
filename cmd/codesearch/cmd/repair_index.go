package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanmcp/codesearch/internal/output"
)

func newRepairIndexCmd() *cobra.Command {
	var deep bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "repair-index [path]",
		Short: "Check the index and re-index or delete whatever is inconsistent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath, err := resolveRepoPath(args)
			if err != nil {
				return err
			}
			a, err := loadApp(repoPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			checkResult, err := a.Checker.Check(cmd.Context(), deep)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if len(checkResult.Inconsistencies) == 0 {
				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(checkResult)
				}
				out.Success("Index is consistent, nothing to repair")
				return nil
			}

			repairResult, err := a.Checker.Repair(cmd.Context(), checkResult.Inconsistencies)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(repairResult)
			}

			out.Statusf("🔧", "Repaired %d files, deleted %d orphans, %d failed",
				len(repairResult.Reindexed), len(repairResult.Deleted), len(repairResult.Failed))
			for _, f := range repairResult.Failed {
				out.Warning(fmt.Sprintf("failed: %s", f))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "Scan every point in the collection instead of just aggregate counts")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
