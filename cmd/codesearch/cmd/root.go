// Package cmd provides the CLI commands for codesearch.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/amanmcp/codesearch/internal/logging"
	"github.com/amanmcp/codesearch/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codesearch CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "codesearch",
		Short: "Local semantic code search over a git repository",
		Long: `codesearch incrementally indexes a repository's source files into a
vector store and exposes semantic search over the result — no server,
no external index, just REPO_PATH and a vector store to talk to.`,
		Version: version.Version,
	}
	root.SetVersionTemplate("codesearch version {{.Version}}\n")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.codesearch/logs/")
	root.PersistentPreRunE = startLogging
	root.PersistentPostRunE = stopLogging

	root.AddCommand(newIndexCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newCheckIndexCmd())
	root.AddCommand(newRepairIndexCmd())
	root.AddCommand(newServeCmd())

	return root
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
