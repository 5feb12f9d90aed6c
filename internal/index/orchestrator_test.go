package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanmcp/codesearch/internal/chunk"
	"github.com/amanmcp/codesearch/internal/config"
	"github.com/amanmcp/codesearch/internal/embed"
	"github.com/amanmcp/codesearch/internal/scanner"
	"github.com/amanmcp/codesearch/internal/state"
	"github.com/amanmcp/codesearch/internal/status"
	"github.com/amanmcp/codesearch/internal/vectorstore"
)

// stubEmbedder returns a deterministic fixed-dimension vector for every
// text, so orchestrator tests don't depend on network or real models.
type stubEmbedder struct {
	dims int
	fail bool
}

func (e *stubEmbedder) Embed(_ context.Context, text string, _ embed.TaskHint) ([]float32, error) {
	if e.fail {
		return nil, assert.AnError
	}
	vec := make([]float32, e.dims)
	for i := range vec {
		vec[i] = float32(len(text)%7) / 10.0
	}
	return vec, nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string, hint embed.TaskHint) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t, hint)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int   { return e.dims }
func (e *stubEmbedder) ModelName() string { return "stub-embedder" }
func (e *stubEmbedder) Close() error      { return nil }

var _ embed.Embedder = (*stubEmbedder)(nil)

// singleChunkPerFile avoids depending on tree-sitter parsing in these
// orchestrator tests, which exercise categorization/budget/checkpoint
// logic rather than C2's structural chunking.
type singleChunkPerFile struct{}

func (singleChunkPerFile) Chunk(_ context.Context, file *chunk.FileInput) ([]*chunk.Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}
	return []*chunk.Chunk{{
		FilePath:  file.Path,
		Content:   string(file.Content),
		Kind:      chunk.KindOther,
		Name:      "whole_file",
		Language:  file.Language,
		StartLine: 1,
		EndLine:   1,
	}}, nil
}

func (singleChunkPerFile) SupportedExtensions() []string { return nil }

var _ chunk.Chunker = singleChunkPerFile{}

func newTestOrchestrator(t *testing.T, repoDir string, dailyLimit int) (*Orchestrator, *vectorstore.FakeStore, *state.Store) {
	t.Helper()
	sc, err := scanner.New()
	require.NoError(t, err)

	vec := vectorstore.NewFakeStore()
	store := state.NewStore(repoDir)

	cfg := config.NewConfig()
	cfg.RepoPath = repoDir
	cfg.DailyLimit = dailyLimit
	cfg.CheckpointEvery = 2

	orch := New(Dependencies{
		Config:   cfg,
		Scanner:  sc,
		Chunker:  singleChunkPerFile{},
		Embedder: &stubEmbedder{dims: 8},
		Vector:   vec,
		State:    store,
	})
	return orch, vec, store
}

func writeFile(t *testing.T, dir, relPath, content string) {
	t.Helper()
	abs := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestOrchestrator_Run_IndexesNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\nfunc A() {}\n")
	writeFile(t, dir, "b.go", "package b\nfunc B() {}\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	result, err := orch.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "complete", result.Result)
	assert.Equal(t, 2, result.FilesDone)

	count, err := vec.PointsCount(t.Context(), orch.deps.Config.VectorCollection)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	snapshot, _, err := store.Load(0)
	require.NoError(t, err)
	assert.Len(t, snapshot.Files, 2)
	assert.Equal(t, state.StatusIndexed, snapshot.Files["a.go"].Status)
}

func TestOrchestrator_Run_SecondRunIsNoopWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, _, _ := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	result, err := orch.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "noop", result.Result)
	assert.Equal(t, 0, result.FilesDone)
}

func TestOrchestrator_Run_ModifiedFileReembeds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, vec, _ := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	writeFile(t, dir, "a.go", "package a\n\nfunc Changed() {}\n")
	result, err := orch.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "complete", result.Result)
	assert.Equal(t, 1, result.FilesDone)

	count, err := vec.PointsCount(t.Context(), orch.deps.Config.VectorCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, count) // old point overwritten, not duplicated
}

func TestOrchestrator_Run_DeletedFileRemovesPoints(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "b.go", "package b\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "b.go")))
	result, err := orch.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "noop", result.Result) // nothing new to embed, but deletion still processed

	count, err := vec.PointsCount(t.Context(), orch.deps.Config.VectorCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	snapshot, _, err := store.Load(0)
	require.NoError(t, err)
	_, stillPresent := snapshot.Files["b.go"]
	assert.False(t, stillPresent)
}

func TestOrchestrator_Run_QuotaCutoffDefersRemainingFiles(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, dir, filepath.Join("pkg", string(rune('a'+i))+".go"), "package pkg\nfunc F() {}\n")
	}

	orch, _, store := newTestOrchestrator(t, dir, 3)
	result, err := orch.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "partial", result.Result)
	assert.Equal(t, 3, result.FilesDone)

	snapshot, _, err := store.Load(3)
	require.NoError(t, err)
	assert.Len(t, snapshot.PendingQueue, 2)
	assert.Equal(t, 3, snapshot.DailyQuota.ChunksConsumedToday)
}

func TestOrchestrator_Run_PendingQueueResumedBeforeNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "b.go", "package b\n")

	orch, _, store := newTestOrchestrator(t, dir, 1)
	result, err := orch.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "partial", result.Result)
	assert.Equal(t, 1, result.FilesDone)

	snapshot, _, err := store.Load(1)
	require.NoError(t, err)
	require.Len(t, snapshot.PendingQueue, 1)
	deferred := snapshot.PendingQueue[0]

	snapshot.DailyQuota.ChunksConsumedToday = 0 // simulate next day's roll
	require.NoError(t, store.Checkpoint(snapshot))

	result2, err := orch.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "complete", result2.Result)
	assert.Equal(t, 1, result2.FilesDone)

	snapshot2, _, err := store.Load(1)
	require.NoError(t, err)
	assert.Equal(t, state.StatusIndexed, snapshot2.Files[deferred].Status)
}

func TestOrchestrator_Run_WithReporterTracksProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, _, _ := newTestOrchestrator(t, dir, 0)
	reporter := status.New(nil, nil)
	orch.deps.Reporter = reporter

	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	snap := reporter.Snapshot()
	assert.False(t, snap.IsIndexing)
	assert.Equal(t, "complete", snap.LastResult)
	assert.NotEmpty(t, snap.RunID)
}

func TestOrchestrator_Run_EmbeddingFailureMarksFileFailedButContinues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "b.go", "package b\n")

	orch, _, store := newTestOrchestrator(t, dir, 0)
	orch.deps.Embedder = &stubEmbedder{dims: 8, fail: true}

	result, err := orch.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesDone)
	assert.Equal(t, 2, result.FilesFailed)

	snapshot, _, err := store.Load(0)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, snapshot.Files["a.go"].Status)
	assert.NotEmpty(t, snapshot.RecentErrors)
}

func TestOrchestrator_ReindexFile_ReembedsSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	require.NoError(t, orch.ReindexFile(t.Context(), "a.go"))

	count, err := vec.PointsCount(t.Context(), orch.deps.Config.VectorCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	snapshot, _, err := store.Load(0)
	require.NoError(t, err)
	assert.Equal(t, state.StatusIndexed, snapshot.Files["a.go"].Status)
}
