// Package index drives the Idle -> Scanning -> Categorizing -> Embedding ->
// Checkpointing -> (Idle|Embedding) -> ShuttingDown state machine that turns
// a file tree into vector-store points, reconciling each run against the
// persisted incremental state.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amanmcp/codesearch/internal/chunk"
	"github.com/amanmcp/codesearch/internal/config"
	aerrors "github.com/amanmcp/codesearch/internal/errors"
	"github.com/amanmcp/codesearch/internal/embed"
	"github.com/amanmcp/codesearch/internal/scanner"
	"github.com/amanmcp/codesearch/internal/state"
	"github.com/amanmcp/codesearch/internal/status"
	"github.com/amanmcp/codesearch/internal/vectorstore"
)

// Phase mirrors status.Phase so callers of Run don't need to import both
// packages just to read the return value's final phase.
type Phase = status.Phase

// Dependencies wires the components an Orchestrator coordinates. Every
// field is required except Reporter, which is nil-safe throughout.
type Dependencies struct {
	Config   *config.Config
	Scanner  *scanner.Scanner
	Chunker  chunk.Chunker
	Embedder embed.Embedder
	Vector   vectorstore.Store
	State    *state.Store
	Reporter *status.Reporter
}

// Orchestrator is the sole mutator of an in-memory IncrementalState; spec's
// concurrency model assumes one orchestrator instance per collection, so no
// locking protects the fields below beyond what Dependencies' own
// components already provide (the Governor's mutex, the state Store's
// process-wide lock file).
type Orchestrator struct {
	deps Dependencies
}

// New constructs an Orchestrator from its dependencies.
func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// RunResult summarizes one Run invocation for callers that don't want to
// poll the Reporter.
type RunResult struct {
	RunID       string
	FilesTotal  int
	FilesDone   int
	FilesFailed int
	Result      string // "complete", "partial", "noop"
}

// workItem is one file queued for the Embedding phase.
type workItem struct {
	relativePath string
}

// Run executes one full pass of the state machine: Scanning, Categorizing,
// Embedding (with periodic Checkpointing), then a final Checkpointing
// before returning to Idle. Run is not safe to call concurrently with
// itself on the same Orchestrator.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	runID := uuid.NewString()
	cfg := o.deps.Config
	slog.Info("orchestrator_run_started", slog.String("run_id", runID), slog.String("repo_path", cfg.RepoPath))

	if err := o.deps.State.Lock(); err != nil {
		return nil, aerrors.FatalInfrastructureError("acquire state lock", err)
	}
	defer func() { _ = o.deps.State.Unlock() }()

	snapshot, recovered, err := o.deps.State.Load(cfg.DailyLimit)
	if err != nil {
		return nil, aerrors.FatalInfrastructureError("load incremental state", err)
	}
	if recovered {
		slog.Warn("state_recovered_from_corruption", slog.String("run_id", runID))
	}

	if err := o.verifyCollectionDrift(ctx, snapshot); err != nil {
		return nil, err
	}

	// Scanning
	discovered, err := o.scan(ctx)
	if err != nil {
		return nil, aerrors.FatalInfrastructureError("scan repository", err)
	}

	// Categorizing
	newPaths, modifiedPaths, unchangedPaths, deletedPaths := categorize(snapshot, discovered)
	snapshot.Counters = state.Counters{
		New:       len(newPaths),
		Modified:  len(modifiedPaths),
		Unchanged: len(unchangedPaths),
		Deleted:   len(deletedPaths),
	}
	slog.Info("orchestrator_categorized",
		slog.String("run_id", runID),
		slog.Int("new", len(newPaths)), slog.Int("modified", len(modifiedPaths)),
		slog.Int("unchanged", len(unchangedPaths)), slog.Int("deleted", len(deletedPaths)))

	for _, p := range deletedPaths {
		if err := o.deps.Vector.DeleteByPath(ctx, cfg.VectorCollection, p); err != nil {
			slog.Warn("delete_by_path_failed", slog.String("path", p), slog.String("error", err.Error()))
		}
		delete(snapshot.Files, p)
	}

	workList := buildWorkList(snapshot, modifiedPaths, newPaths)
	snapshot.PendingQueue = nil

	if o.deps.Reporter != nil {
		o.deps.Reporter.StartRun(len(workList), runID)
		o.deps.Reporter.SetCounters(snapshot.Counters)
		o.deps.Reporter.SetPhase(status.PhaseEmbedding)
	}

	if len(workList) == 0 {
		if err := o.deps.State.Checkpoint(snapshot); err != nil {
			return nil, aerrors.FatalInfrastructureError("checkpoint state", err)
		}
		if o.deps.Reporter != nil {
			o.deps.Reporter.FinishRun("noop")
		}
		return &RunResult{RunID: runID, Result: "noop"}, nil
	}

	result, err := o.embedWorkList(ctx, snapshot, workList, runID)
	if err != nil {
		return nil, err
	}

	if o.deps.Reporter != nil {
		o.deps.Reporter.SetPhase(status.PhaseCheckpointing)
	}
	if err := o.deps.State.Checkpoint(snapshot); err != nil {
		return nil, aerrors.FatalInfrastructureError("checkpoint state", err)
	}
	if o.deps.Reporter != nil {
		o.deps.Reporter.FinishRun(result.Result)
	}

	slog.Info("orchestrator_run_complete",
		slog.String("run_id", runID), slog.String("result", result.Result),
		slog.Int("files_done", result.FilesDone), slog.Int("files_failed", result.FilesFailed))
	return result, nil
}

// verifyCollectionDrift checks the loaded state's recorded point count
// against the live collection, within the +-1-point-per-file tolerance
// spec.md §4.6 requires. A mismatch beyond tolerance discards in-memory
// state so every file is re-treated as new (recovery mode).
func (o *Orchestrator) verifyCollectionDrift(ctx context.Context, snapshot *state.IncrementalState) error {
	cfg := o.deps.Config
	if err := o.deps.Vector.EnsureCollection(ctx, vectorstore.CollectionDescriptor{
		Name:      cfg.VectorCollection,
		Dimension: o.deps.Embedder.Dimensions(),
		Distance:  vectorstore.DistanceCosine,
	}); err != nil {
		if aerrors.GetCode(err) == aerrors.ErrCodeDimensionMismatch {
			return aerrors.ConfigError("vector collection dimension mismatch, rebuild required", err)
		}
		return err
	}

	expected := 0
	for _, rec := range snapshot.Files {
		if rec.Status == state.StatusIndexed {
			expected += rec.ChunkCount
		}
	}
	actual, err := o.deps.Vector.PointsCount(ctx, cfg.VectorCollection)
	if err != nil {
		return aerrors.FatalInfrastructureError("read collection point count", err)
	}
	tolerance := len(snapshot.Files) + 1
	if abs(actual-expected) > tolerance {
		slog.Warn("collection_drift_detected",
			slog.Int("expected", expected), slog.Int("actual", actual), slog.Int("tolerance", tolerance))
		*snapshot = *state.New(cfg.DailyLimit)
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// scan runs C1 over the configured repo root and returns every discovered
// file keyed by its relative path.
func (o *Orchestrator) scan(ctx context.Context) (map[string]*scanner.FileInfo, error) {
	cfg := o.deps.Config
	results, err := o.deps.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          cfg.RepoPath,
		ExcludePatterns:  cfg.IgnorePaths,
		RespectGitignore: true,
		Workers:          runtime.NumCPU(),
	})
	if err != nil {
		return nil, err
	}

	discovered := make(map[string]*scanner.FileInfo)
	for res := range results {
		if res.Error != nil {
			slog.Warn("scan_file_error", slog.String("error", res.Error.Error()))
			continue
		}
		discovered[res.File.Path] = res.File
	}
	return discovered, nil
}

// categorize diffs discovered against the loaded snapshot per spec.md
// §4.1's algorithm: absent from previous => new; differs => modified;
// equal => unchanged; present in previous but absent now => deleted.
func categorize(snapshot *state.IncrementalState, discovered map[string]*scanner.FileInfo) (newPaths, modifiedPaths, unchangedPaths, deletedPaths []string) {
	for path, info := range discovered {
		rec, ok := snapshot.Files[path]
		switch {
		case !ok:
			newPaths = append(newPaths, path)
		case rec.ContentHash != info.ContentHash:
			modifiedPaths = append(modifiedPaths, path)
		default:
			unchangedPaths = append(unchangedPaths, path)
		}
	}
	for path := range snapshot.Files {
		if _, ok := discovered[path]; !ok {
			deletedPaths = append(deletedPaths, path)
		}
	}
	return
}

// buildWorkList orders modified files first, then any path the previous
// run deferred to pendingQueue (that still exists), then new files — the
// priority spec.md §4.7's Categorizing phase names, with pendingQueue
// resumed ahead of fresh work per its Daily budget discipline note.
func buildWorkList(snapshot *state.IncrementalState, modifiedPaths, newPaths []string) []workItem {
	seen := make(map[string]bool)
	var list []workItem

	for _, p := range modifiedPaths {
		list = append(list, workItem{relativePath: p})
		seen[p] = true
	}
	for _, p := range snapshot.PendingQueue {
		if seen[p] {
			continue
		}
		list = append(list, workItem{relativePath: p})
		seen[p] = true
	}
	for _, p := range newPaths {
		if seen[p] {
			continue
		}
		list = append(list, workItem{relativePath: p})
		seen[p] = true
	}
	return list
}

// embedWorkList drives the Embedding phase: chunk, delete-then-upsert,
// update FileRecord, checkpoint every CheckpointEvery files, respecting
// the daily chunk budget both per-file (before starting) and per-chunk
// (mid-file, spec.md S4).
func (o *Orchestrator) embedWorkList(ctx context.Context, snapshot *state.IncrementalState, workList []workItem, runID string) (*RunResult, error) {
	cfg := o.deps.Config
	snapshot.RollDailyQuotaIfNeeded()

	checkpointEvery := cfg.CheckpointEvery
	if checkpointEvery <= 0 {
		checkpointEvery = 10
	}

	done, failed := 0, 0
	budgetExhausted := false

	for i, item := range workList {
		select {
		case <-ctx.Done():
			if err := o.deps.State.Checkpoint(snapshot); err != nil {
				slog.Warn("checkpoint_on_cancel_failed", slog.String("error", err.Error()))
			}
			return &RunResult{RunID: runID, FilesTotal: len(workList), FilesDone: done, FilesFailed: failed, Result: "partial"}, ctx.Err()
		default:
		}

		if budgetExhausted {
			snapshot.PendingQueue = append(snapshot.PendingQueue, item.relativePath)
			continue
		}

		estimate := 1
		if rec, ok := snapshot.Files[item.relativePath]; ok && rec.ChunkCount > 0 {
			estimate = rec.ChunkCount
		}
		if snapshot.DailyQuota.ChunksConsumedToday+estimate > snapshot.DailyQuota.DailyLimit && snapshot.DailyQuota.DailyLimit > 0 {
			snapshot.PendingQueue = append(snapshot.PendingQueue, item.relativePath)
			continue
		}

		if o.deps.Reporter != nil {
			o.deps.Reporter.BeginFile(item.relativePath)
		}

		exhaustedMidFile, indexErr := o.indexFile(ctx, snapshot, item)
		if exhaustedMidFile {
			budgetExhausted = true
		}
		if indexErr != nil {
			failed++
			snapshot.AddError(item.relativePath, indexErr.Error())
			if o.deps.Reporter != nil {
				o.deps.Reporter.RecordError(item.relativePath, indexErr.Error())
			}
		} else if !exhaustedMidFile {
			done++
		}

		if o.deps.Reporter != nil {
			o.deps.Reporter.FinishFile()
		}

		if (i+1)%checkpointEvery == 0 {
			if o.deps.Reporter != nil {
				o.deps.Reporter.SetPhase(status.PhaseCheckpointing)
			}
			if err := o.deps.State.Checkpoint(snapshot); err != nil {
				return nil, aerrors.FatalInfrastructureError("mid-run checkpoint", err)
			}
			if o.deps.Reporter != nil {
				o.deps.Reporter.SetPhase(status.PhaseEmbedding)
			}
		}
	}

	result := "complete"
	if len(snapshot.PendingQueue) > 0 {
		result = "partial"
	}
	return &RunResult{RunID: runID, FilesTotal: len(workList), FilesDone: done, FilesFailed: failed, Result: result}, nil
}

// indexFile chunks, embeds, and upserts a single file, mutating its
// FileRecord in place. It returns exhaustedMidFile=true when the daily
// budget ran out partway through this file's chunks (spec.md S4): the
// file is marked failed and the caller must stop dispatching further
// files this run.
func (o *Orchestrator) indexFile(ctx context.Context, snapshot *state.IncrementalState, item workItem) (exhaustedMidFile bool, err error) {
	cfg := o.deps.Config
	path := item.relativePath
	absPath := filepath.Join(cfg.RepoPath, path)

	content, hash, err := readAndHash(absPath)
	if err != nil {
		return false, aerrors.FileIndexingFailure(fmt.Sprintf("read %s", path), err)
	}

	chunks, err := o.deps.Chunker.Chunk(ctx, &chunk.FileInput{Path: path, Content: content})
	if err != nil {
		return false, aerrors.FileIndexingFailure(fmt.Sprintf("chunk %s", path), err)
	}

	_, hadRecord := snapshot.Files[path]
	if hadRecord {
		if err := o.deps.Vector.DeleteByPath(ctx, cfg.VectorCollection, path); err != nil {
			slog.Warn("delete_by_path_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	if len(chunks) == 0 {
		snapshot.Files[path] = &state.FileRecord{
			RelativePath: path, ContentHash: hash, LastIndexedAt: time.Now(),
			ChunkCount: 0, Status: state.StatusIndexed,
		}
		return false, nil
	}

	points := make([]vectorstore.Point, 0, len(chunks))
	embeddedFailures := 0

	for ordinal, c := range chunks {
		if snapshot.DailyQuota.DailyLimit > 0 && snapshot.DailyQuota.ChunksConsumedToday+1 > snapshot.DailyQuota.DailyLimit {
			exhaustedMidFile = true
			break
		}

		vec, embedErr := o.deps.Embedder.Embed(ctx, c.Content, embed.TaskDocument)
		snapshot.DailyQuota.ChunksConsumedToday++
		if embedErr != nil || vec == nil {
			embeddedFailures++
			continue
		}

		points = append(points, vectorstore.Point{
			ID:     vectorstore.PointID(path, c.StartLine, ordinal),
			Vector: vec,
			Payload: vectorstore.Payload{
				RelativePath:   path,
				Kind:           string(c.Kind),
				Name:           c.Name,
				StartLine:      c.StartLine,
				EndLine:        c.EndLine,
				Language:       c.Language,
				ContentSnippet: snippet(c.Content),
				FileHash:       hash,
				ChunkOrdinal:   ordinal,
			},
		})
	}

	if len(points) > 0 {
		if upsertErr := o.upsertWithRetry(ctx, points); upsertErr != nil {
			snapshot.Files[path] = &state.FileRecord{
				RelativePath: path, ContentHash: hash, LastIndexedAt: time.Now(),
				ChunkCount: 0, Status: state.StatusFailed,
			}
			return exhaustedMidFile, aerrors.FileIndexingFailure(fmt.Sprintf("upsert %s", path), upsertErr)
		}
	}

	majorityFailed := len(chunks) > 0 && embeddedFailures*2 >= len(chunks)

	fileStatus := state.StatusIndexed
	var fileErr error
	if exhaustedMidFile || majorityFailed {
		fileStatus = state.StatusFailed
		if majorityFailed {
			fileErr = aerrors.FileIndexingFailure(fmt.Sprintf("%d/%d chunks failed to embed for %s", embeddedFailures, len(chunks), path), nil)
		}
	}

	snapshot.Files[path] = &state.FileRecord{
		RelativePath:  path,
		ContentHash:   hash,
		LastIndexedAt: time.Now(),
		ChunkCount:    len(points),
		Status:        fileStatus,
	}
	return exhaustedMidFile, fileErr
}

// upsertWithRetry retries a single failed upsert once, per spec.md
// §4.7's "Vector-store upsert failure: retry once; on second failure,
// mark file failed" rule. Uses aerrors.Retry with MaxRetries pinned to 1
// rather than a configurable schedule, since the spec names the retry
// count exactly.
func (o *Orchestrator) upsertWithRetry(ctx context.Context, points []vectorstore.Point) error {
	cfg := o.deps.Config
	return aerrors.Retry(ctx, aerrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		Multiplier:   1,
	}, func() error {
		return o.deps.Vector.UpsertBatch(ctx, cfg.VectorCollection, points)
	})
}

// ReindexFile re-embeds a single file from scratch, for use by repair_index
// (C7-adjacent consistency repair). DeleteByPath runs first via indexFile's
// hadRecord check whenever state already has a FileRecord for this path.
func (o *Orchestrator) ReindexFile(ctx context.Context, relativePath string) error {
	snapshot, _, err := o.deps.State.Load(o.deps.Config.DailyLimit)
	if err != nil {
		return aerrors.FatalInfrastructureError("load state for reindex", err)
	}
	exhausted, indexErr := o.indexFile(ctx, snapshot, workItem{relativePath: relativePath})
	if indexErr != nil {
		return indexErr
	}
	if exhausted {
		return aerrors.QuotaExhausted(fmt.Sprintf("daily budget exhausted before %s could be reindexed", relativePath))
	}
	return o.deps.State.Checkpoint(snapshot)
}

func readAndHash(absPath string) ([]byte, string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	content, err := io.ReadAll(io.TeeReader(f, h))
	if err != nil {
		return nil, "", err
	}
	return content, hex.EncodeToString(h.Sum(nil)), nil
}

// snippet trims surrounding whitespace and caps display size per
// spec.md §4.9.
func snippet(content string) string {
	const maxLen = 400
	trimmed := strings.TrimSpace(content)
	if len(trimmed) > maxLen {
		return trimmed[:maxLen]
	}
	return trimmed
}
