package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amanmcp/codesearch/internal/output"
	"github.com/amanmcp/codesearch/internal/search"
)

type searchOptions struct {
	repo     string
	limit    int
	language string
	kind     string
	format   string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a semantic search against the indexed repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.repo, "repo", "", "Repository path (defaults to the current project root)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", search.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g. go, python)")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "Filter by chunk kind (e.g. function, class)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	var repoArgs []string
	if opts.repo != "" {
		repoArgs = []string{opts.repo}
	}
	repoPath, err := resolveRepoPath(repoArgs)
	if err != nil {
		return err
	}
	a, err := loadApp(repoPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	results, err := a.Search.Search(cmd.Context(), query, search.Options{
		Limit:    opts.limit,
		Language: opts.language,
		Kind:     opts.kind,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}
	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	out.Newline()
	for i, r := range results {
		location := r.RelativePath
		if r.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", r.RelativePath, r.StartLine)
		}
		out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
		if r.Name != "" {
			out.Status("", fmt.Sprintf("   %s %s", r.Kind, r.Name))
		}
		out.Status("", "   "+firstLine(r.Snippet))
		out.Newline()
	}
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
