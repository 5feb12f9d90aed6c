package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amanmcp/codesearch/internal/mcpsurface"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Run the MCP stdio server, exposing search/status/check_index/repair_index to an AI client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repoPath, err := resolveRepoPath(args)
			if err != nil {
				return err
			}
			a, err := loadApp(repoPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			server := mcpsurface.NewServer(a)
			return server.Serve(ctx)
		},
	}
	return cmd
}
