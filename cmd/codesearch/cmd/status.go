package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanmcp/codesearch/internal/output"
	"github.com/amanmcp/codesearch/internal/state"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show index health: file counts, quota usage, and recent errors",
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

			snapshot, _, err := a.State.Load(a.Config.DailyLimit)
			if err != nil {
				return err
			}
			reporterSnap := a.Reporter.Snapshot()

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Files    map[string]*state.FileRecord `json:"files"`
					Pending  []string                     `json:"pending_queue"`
					Quota    state.DailyQuota             `json:"daily_quota"`
					Reporter interface{}                  `json:"reporter"`
				}{
					Files:    snapshot.Files,
					Pending:  snapshot.PendingQueue,
					Quota:    snapshot.DailyQuota,
					Reporter: reporterSnap,
				})
			}

			out := output.New(cmd.OutOrStdout())
			indexed, failed := 0, 0
			for _, rec := range snapshot.Files {
				switch rec.Status {
				case state.StatusIndexed:
					indexed++
				case state.StatusFailed:
					failed++
				}
			}
			out.Statusf("📊", "%s", repoPath)
			out.Status("", fmt.Sprintf("Indexed: %d files, Failed: %d, Pending: %d", indexed, failed, len(snapshot.PendingQueue)))
			out.Status("", fmt.Sprintf("Daily quota: %d/%d chunks consumed today", snapshot.DailyQuota.ChunksConsumedToday, snapshot.DailyQuota.DailyLimit))
			out.Status("", fmt.Sprintf("Vector points: %d (~%d bytes)", reporterSnap.PointsCount, reporterSnap.EstimatedBytes))
			if reporterSnap.IsIndexing {
				out.Status("", fmt.Sprintf("Indexing in progress: %.1f%% (%d/%d), phase=%s", reporterSnap.PercentDone, reporterSnap.FilesDone, reporterSnap.FilesTotal, reporterSnap.Phase))
			}
			for _, e := range snapshot.RecentErrors {
				out.Warning(fmt.Sprintf("%s: %s", e.FilePath, e.Message))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
