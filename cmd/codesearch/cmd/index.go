package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanmcp/codesearch/internal/output"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Run one incremental indexing pass over a repository",
		Long: `index scans the repository for new, modified, and deleted files since
the last run, embeds the changed content, and upserts it into the
configured vector collection. Running it repeatedly is the intended
usage — each run only processes what changed.`,
		Args: cobra.MaximumNArgs(1),
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

			out := output.New(cmd.OutOrStdout())
			out.Statusf("🔍", "Indexing %s", repoPath)

			result, err := a.Orchestrator.Run(cmd.Context())
			if err != nil {
				return err
			}

			switch result.Result {
			case "noop":
				out.Status("", "Nothing to do, index is up to date")
			case "partial":
				out.Warning(fmt.Sprintf("Daily quota exhausted: %d/%d files done, resume with another run",
					result.FilesDone, result.FilesTotal))
			default:
				out.Success(fmt.Sprintf("Indexed %d files (%d failed)", result.FilesDone, result.FilesFailed))
			}
			return nil
		},
	}
	return cmd
}
