package cmd

import (
	"os"

	"github.com/amanmcp/codesearch/internal/app"
	"github.com/amanmcp/codesearch/internal/config"
)

// resolveRepoPath returns the first positional arg if given, else the
// current directory's project root (config.FindProjectRoot's .git /
// .codesearch.yaml heuristic).
func resolveRepoPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return config.FindProjectRoot(cwd)
}

// loadApp loads configuration for repoPath and builds every component a
// command needs. Callers must Close the returned App.
func loadApp(repoPath string) (*app.App, error) {
	cfg, err := config.Load(repoPath)
	if err != nil {
		return nil, err
	}
	return app.Build(cfg)
}
