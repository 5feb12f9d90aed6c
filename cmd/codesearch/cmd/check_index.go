package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanmcp/codesearch/internal/output"
)

func newCheckIndexCmd() *cobra.Command {
	var deep bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check-index [path]",
		Short: "Cross-check the persisted state against the vector collection",
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

			result, err := a.Checker.Check(cmd.Context(), deep)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			out := output.New(cmd.OutOrStdout())
			if len(result.Inconsistencies) == 0 {
				out.Success(fmt.Sprintf("Index is consistent (%d files checked, %d points scanned)", result.FilesChecked, result.PointsScanned))
				return nil
			}
			out.Warning(fmt.Sprintf("%d inconsistencies found (%d files checked, %d points scanned)",
				len(result.Inconsistencies), result.FilesChecked, result.PointsScanned))
			for _, inc := range result.Inconsistencies {
				out.Status("", fmt.Sprintf("[%s] %s: %s", inc.Type, inc.RelativePath, inc.Details))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "Scan every point in the collection instead of just aggregate counts")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
