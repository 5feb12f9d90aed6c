package mcpsurface

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/amanmcp/codesearch/internal/app"
	"github.com/amanmcp/codesearch/internal/search"
	"github.com/amanmcp/codesearch/internal/state"
	"github.com/amanmcp/codesearch/pkg/version"
)

// Server adapts one *app.App onto MCP stdio, registering exactly the four
// core operations as tools. It holds no state of its own beyond the App
// it was built from.
type Server struct {
	mcp *mcp.Server
	app *app.App
}

// NewServer constructs an MCP server bound to a, and registers its tools.
func NewServer(a *app.App) *Server {
	s := &Server{app: a}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "codesearch",
		Version: version.Version,
	}, nil)

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over the indexed repository. Finds code by meaning, not just keyword matching. Run status or check_index first if results look stale.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Report index health: file counts by status, daily embedding quota usage, vector store size, and recent indexing errors.",
	}, s.handleStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "check_index",
		Description: "Cross-check the persisted index state against the live vector collection and report any drift, without modifying anything.",
	}, s.handleCheckIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "repair_index",
		Description: "Check the index and then re-index missing files or delete orphaned vectors to resolve whatever drift check_index would report.",
	}, s.handleRepairIndex)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult, SearchOutput, error,
) {
	results, err := s.app.Search.Search(ctx, input.Query, search.Options{
		Limit:    input.Limit,
		Language: input.Language,
		Kind:     input.Kind,
	})
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultOutput{
			RelativePath: r.RelativePath,
			StartLine:    r.StartLine,
			EndLine:      r.EndLine,
			Kind:         r.Kind,
			Name:         r.Name,
			Language:     r.Language,
			Snippet:      r.Snippet,
			Score:        float64(r.Score),
		})
	}
	return nil, out, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult, StatusOutput, error,
) {
	snapshot, _, err := s.app.State.Load(s.app.Config.DailyLimit)
	if err != nil {
		return nil, StatusOutput{}, MapError(err)
	}
	reporterSnap := s.app.Reporter.Snapshot()

	out := StatusOutput{
		ChunksConsumedToday: snapshot.DailyQuota.ChunksConsumedToday,
		DailyLimit:          snapshot.DailyQuota.DailyLimit,
		PointsCount:         reporterSnap.PointsCount,
		EstimatedBytes:      reporterSnap.EstimatedBytes,
		IsIndexing:          reporterSnap.IsIndexing,
		Phase:               string(reporterSnap.Phase),
		PercentDone:         reporterSnap.PercentDone,
	}
	for _, rec := range snapshot.Files {
		switch rec.Status {
		case state.StatusIndexed:
			out.FilesIndexed++
		case state.StatusFailed:
			out.FilesFailed++
		}
	}
	out.FilesPending = len(snapshot.PendingQueue)
	for _, e := range snapshot.RecentErrors {
		out.RecentErrors = append(out.RecentErrors, fmt.Sprintf("%s: %s", e.FilePath, e.Message))
	}
	return nil, out, nil
}

func (s *Server) handleCheckIndex(ctx context.Context, _ *mcp.CallToolRequest, input CheckIndexInput) (
	*mcp.CallToolResult, CheckIndexOutput, error,
) {
	result, err := s.app.Checker.Check(ctx, input.DeepScan)
	if err != nil {
		return nil, CheckIndexOutput{}, MapError(err)
	}

	out := CheckIndexOutput{
		FilesChecked:  result.FilesChecked,
		PointsScanned: result.PointsScanned,
	}
	for _, inc := range result.Inconsistencies {
		out.Inconsistencies = append(out.Inconsistencies, InconsistencyOutput{
			Type:         string(inc.Type),
			RelativePath: inc.RelativePath,
			Details:      inc.Details,
		})
	}
	return nil, out, nil
}

func (s *Server) handleRepairIndex(ctx context.Context, _ *mcp.CallToolRequest, input RepairIndexInput) (
	*mcp.CallToolResult, RepairIndexOutput, error,
) {
	checkResult, err := s.app.Checker.Check(ctx, input.DeepScan)
	if err != nil {
		return nil, RepairIndexOutput{}, MapError(err)
	}
	if len(checkResult.Inconsistencies) == 0 {
		return nil, RepairIndexOutput{}, nil
	}

	repairResult, err := s.app.Checker.Repair(ctx, checkResult.Inconsistencies)
	if err != nil {
		return nil, RepairIndexOutput{}, MapError(err)
	}
	return nil, RepairIndexOutput{
		Reindexed: repairResult.Reindexed,
		Deleted:   repairResult.Deleted,
		Failed:    repairResult.Failed,
	}, nil
}

// Serve runs the server over stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		slog.Error("mcp server stopped with error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
