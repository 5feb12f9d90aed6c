// Package app wires a loaded Config into the concrete components every
// entrypoint needs — the cobra CLI and the MCP stdio surface both build
// their dependencies through Build rather than duplicating constructor
// calls, mirroring the teacher's pattern of a single wiring path shared
// by its CLI commands and its MCP server (cmd/amanmcp/cmd/root.go,
// internal/mcp/server.go).
package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/amanmcp/codesearch/internal/chunk"
	"github.com/amanmcp/codesearch/internal/config"
	aerrors "github.com/amanmcp/codesearch/internal/errors"
	"github.com/amanmcp/codesearch/internal/embed"
	"github.com/amanmcp/codesearch/internal/index"
	"github.com/amanmcp/codesearch/internal/ratelimit"
	"github.com/amanmcp/codesearch/internal/scanner"
	"github.com/amanmcp/codesearch/internal/search"
	"github.com/amanmcp/codesearch/internal/state"
	"github.com/amanmcp/codesearch/internal/status"
	"github.com/amanmcp/codesearch/internal/vectorstore"
)

// App bundles every long-lived component one repository's worth of
// indexing and querying needs. Callers are responsible for Close.
type App struct {
	Config       *config.Config
	Orchestrator *index.Orchestrator
	Checker      *index.ConsistencyChecker
	Search       *search.Engine
	Reporter     *status.Reporter
	Embedder     embed.Embedder
	Vector       vectorstore.Store
	State        *state.Store
}

// Build constructs every component rooted at cfg.RepoPath. The returned
// App owns the embedder's HTTP transport and the vector store's gRPC
// connection; callers must call Close when done.
func Build(cfg *config.Config) (*App, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, aerrors.FatalInfrastructureError("construct scanner", err)
	}

	profile := embed.ProfileFor(cfg.EmbedModel, cfg.EmbedDimension)
	governor := ratelimit.NewGovernor(profile)
	embedder := embed.NewClient(embed.Config{
		Endpoint:   cfg.EmbedEndpoint,
		APIKey:     cfg.EmbedAPIKey,
		Model:      cfg.EmbedModel,
		Dimensions: cfg.EmbedDimension,
		Profile:    profile,
	}, governor)

	host, port, err := splitVectorURL(cfg.VectorURL)
	if err != nil {
		return nil, aerrors.ConfigError("parse vector_url", err)
	}
	vector, err := vectorstore.NewQdrantStore(host, port, cfg.VectorAPIKey, zerolog.New(os.Stderr).With().Timestamp().Logger())
	if err != nil {
		return nil, err
	}

	stateStore := state.NewStore(cfg.RepoPath)

	vectorStats := func() (int, int64) {
		count, err := vector.PointsCount(context.Background(), cfg.VectorCollection)
		if err != nil {
			return 0, 0
		}
		return count, vectorstore.EstimatedBytes(count, cfg.EmbedDimension)
	}
	reporter := status.New(governor, vectorStats)

	orch := index.New(index.Dependencies{
		Config:   cfg,
		Scanner:  sc,
		Chunker:  chunk.NewCodeChunker(),
		Embedder: embedder,
		Vector:   vector,
		State:    stateStore,
		Reporter: reporter,
	})

	checker := index.NewConsistencyChecker(cfg.RepoPath, stateStore, vector, cfg.VectorCollection, orch)
	engine := search.New(embedder, vector, cfg.VectorCollection)

	return &App{
		Config:       cfg,
		Orchestrator: orch,
		Checker:      checker,
		Search:       engine,
		Reporter:     reporter,
		Embedder:     embedder,
		Vector:       vector,
		State:        stateStore,
	}, nil
}

// Close releases the embedder's transport and the vector store's
// connection. Safe to call once; safe on a partially built App.
func (a *App) Close() error {
	var firstErr error
	if a.Embedder != nil {
		if err := a.Embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Vector != nil {
		if err := a.Vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// splitVectorURL accepts "host:port" (the external-interface VECTOR_URL
// shape) and falls back to Qdrant's default gRPC port when none is given.
func splitVectorURL(raw string) (string, int, error) {
	if raw == "" {
		return "localhost", 6334, nil
	}
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return raw, 6334, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q in vector_url: %w", portStr, err)
	}
	return host, port, nil
}
