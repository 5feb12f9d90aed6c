package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanmcp/codesearch/internal/vectorstore"
)

func TestConsistencyChecker_QuickCheck_MatchesAfterRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	checker := NewConsistencyChecker(dir, store, vec, orch.deps.Config.VectorCollection, orch)
	expected, actual, err := checker.QuickCheck(t.Context())
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestConsistencyChecker_Check_DeepScanFindsOrphan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	require.NoError(t, vec.UpsertBatch(t.Context(), orch.deps.Config.VectorCollection, []vectorstore.Point{{
		ID:     vectorstore.PointID("ghost.go", 1, 0),
		Vector: make([]float32, 8),
		Payload: vectorstore.Payload{
			RelativePath: "ghost.go",
		},
	}}))

	checker := NewConsistencyChecker(dir, store, vec, orch.deps.Config.VectorCollection, orch)
	result, err := checker.Check(t.Context(), true)
	require.NoError(t, err)

	var found bool
	for _, inc := range result.Inconsistencies {
		if inc.Type == InconsistencyOrphanVector && inc.RelativePath == "ghost.go" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestConsistencyChecker_Check_DeepScanFindsMissingVector(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	require.NoError(t, vec.DeleteByPath(t.Context(), orch.deps.Config.VectorCollection, "a.go"))

	checker := NewConsistencyChecker(dir, store, vec, orch.deps.Config.VectorCollection, orch)
	result, err := checker.Check(t.Context(), true)
	require.NoError(t, err)

	var found bool
	for _, inc := range result.Inconsistencies {
		if inc.Type == InconsistencyMissingVector && inc.RelativePath == "a.go" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestConsistencyChecker_Check_FindsFileMissingOnDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.go")))

	checker := NewConsistencyChecker(dir, store, vec, orch.deps.Config.VectorCollection, orch)
	result, err := checker.Check(t.Context(), false)
	require.NoError(t, err)

	var found bool
	for _, inc := range result.Inconsistencies {
		if inc.Type == InconsistencyFileMissing && inc.RelativePath == "a.go" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestConsistencyChecker_Repair_DeletesOrphanAndReindexesMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)

	require.NoError(t, vec.UpsertBatch(t.Context(), orch.deps.Config.VectorCollection, []vectorstore.Point{{
		ID:     vectorstore.PointID("ghost.go", 1, 0),
		Vector: make([]float32, 8),
		Payload: vectorstore.Payload{RelativePath: "ghost.go"},
	}}))
	require.NoError(t, vec.DeleteByPath(t.Context(), orch.deps.Config.VectorCollection, "a.go"))

	checker := NewConsistencyChecker(dir, store, vec, orch.deps.Config.VectorCollection, orch)
	checkResult, err := checker.Check(t.Context(), true)
	require.NoError(t, err)
	require.NotEmpty(t, checkResult.Inconsistencies)

	repairResult, err := checker.Repair(t.Context(), checkResult.Inconsistencies)
	require.NoError(t, err)
	assert.Contains(t, repairResult.Deleted, "ghost.go")
	assert.Contains(t, repairResult.Reindexed, "a.go")

	count, err := vec.PointsCount(t.Context(), orch.deps.Config.VectorCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConsistencyChecker_Repair_NoOrchestratorFailsReindex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")

	orch, vec, store := newTestOrchestrator(t, dir, 0)
	_, err := orch.Run(t.Context())
	require.NoError(t, err)
	require.NoError(t, vec.DeleteByPath(t.Context(), orch.deps.Config.VectorCollection, "a.go"))

	checker := NewConsistencyChecker(dir, store, vec, orch.deps.Config.VectorCollection, nil)
	checkResult, err := checker.Check(t.Context(), true)
	require.NoError(t, err)

	repairResult, err := checker.Repair(t.Context(), checkResult.Inconsistencies)
	require.NoError(t, err)
	assert.Contains(t, repairResult.Failed, "a.go")
	assert.Empty(t, repairResult.Reindexed)
}
