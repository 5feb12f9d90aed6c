// Package search implements the single-call semantic query path: embed the
// query text under the "query" task hint, search the vector collection, and
// shape hits into result descriptors. Reduced from the teacher's hybrid
// BM25+vector engine (internal/search/engine.go, pkg/searcher/vector.go) to
// the embed-then-search path this module's spec requires — no RRF fusion.
package search

import (
	"context"
	"strings"

	aerrors "github.com/amanmcp/codesearch/internal/errors"
	"github.com/amanmcp/codesearch/internal/embed"
	"github.com/amanmcp/codesearch/internal/vectorstore"
)

// DefaultLimit and MaxLimit bound the k parameter of Search: unspecified
// (<=0) requests default to DefaultLimit, and no caller may request more
// than MaxLimit results in a single call.
const (
	DefaultLimit = 5
	MaxLimit     = 100
	snippetCap   = 400
)

// Result is one ranked hit: the payload fields the caller needs to locate
// and preview the match, plus its similarity score.
type Result struct {
	RelativePath string  `json:"relative_path"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	Kind         string  `json:"kind"`
	Name         string  `json:"name"`
	Language     string  `json:"language"`
	Snippet      string  `json:"snippet"`
	Score        float32 `json:"score"`
}

// Options narrows a search to a subset of the collection.
type Options struct {
	Limit    int
	Language string
	Kind     string
}

// Engine is the Query Path: embed once, search once. It holds no mutable
// state of its own — unlike the Orchestrator, Engine is safe for
// concurrent use by multiple callers (spec's "concurrent readers via C9"
// note).
type Engine struct {
	embedder   embed.Embedder
	vector     vectorstore.Store
	collection string
}

// New constructs a query Engine bound to one embedding client and vector
// collection.
func New(embedder embed.Embedder, vector vectorstore.Store, collection string) *Engine {
	return &Engine{embedder: embedder, vector: vector, collection: collection}
}

// Search embeds queryText under the query task hint and returns the top-k
// points by cosine similarity, descending score. An empty query is an
// input error; an embedder failure propagates; an empty result set is not
// an error.
func (e *Engine) Search(ctx context.Context, queryText string, opts Options) ([]Result, error) {
	trimmed := strings.TrimSpace(queryText)
	if trimmed == "" {
		return nil, aerrors.QueryEmptyError("query text must not be empty")
	}

	limit := opts.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	vec, err := e.embedder.Embed(ctx, trimmed, embed.TaskQuery)
	if err != nil {
		return nil, aerrors.InternalError("embed query", err)
	}

	var filter *vectorstore.Filter
	if opts.Language != "" || opts.Kind != "" {
		filter = &vectorstore.Filter{Language: opts.Language, Kind: opts.Kind}
	}

	hits, err := e.vector.Search(ctx, e.collection, vec, limit, filter)
	if err != nil {
		return nil, aerrors.InternalError("search vector collection", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			RelativePath: h.Payload.RelativePath,
			StartLine:    h.Payload.StartLine,
			EndLine:      h.Payload.EndLine,
			Kind:         h.Payload.Kind,
			Name:         h.Payload.Name,
			Language:     h.Payload.Language,
			Snippet:      trimSnippet(h.Payload.ContentSnippet),
			Score:        h.Score,
		})
	}
	return results, nil
}

// trimSnippet removes surrounding whitespace and caps display size; the
// stored payload snippet is already capped at ingest time (internal/
// index.snippet), so this is a defensive re-trim for payloads written by
// an older schema version.
func trimSnippet(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > snippetCap {
		return trimmed[:snippetCap]
	}
	return trimmed
}
