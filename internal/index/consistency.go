package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/amanmcp/codesearch/internal/state"
	"github.com/amanmcp/codesearch/internal/vectorstore"
)

// InconsistencyType classifies one disagreement between the persisted
// state document and the vector collection it's supposed to describe.
type InconsistencyType string

const (
	// InconsistencyOrphanVector is a collection point whose relativePath
	// has no corresponding FileRecord (or the file record says deleted).
	InconsistencyOrphanVector InconsistencyType = "orphan_vector"

	// InconsistencyMissingVector is a FileRecord marked indexed with no
	// matching points in the collection.
	InconsistencyMissingVector InconsistencyType = "missing_vector"

	// InconsistencyCountMismatch is a FileRecord whose ChunkCount
	// disagrees with the number of points actually found for its path.
	InconsistencyCountMismatch InconsistencyType = "count_mismatch"

	// InconsistencyFileMissing is a FileRecord whose source file no
	// longer exists on disk.
	InconsistencyFileMissing InconsistencyType = "file_missing"
)

// Inconsistency is one concrete finding from Check.
type Inconsistency struct {
	Type         InconsistencyType `json:"type"`
	RelativePath string            `json:"relative_path"`
	Details      string            `json:"details"`
}

// CheckResult summarizes one run of Check.
type CheckResult struct {
	FilesChecked    int             `json:"files_checked"`
	PointsScanned   int             `json:"points_scanned"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	DeepScan        bool            `json:"deep_scan"`
}

// RepairResult summarizes one run of Repair.
type RepairResult struct {
	Reindexed []string `json:"reindexed"`
	Deleted   []string `json:"deleted_orphans"`
	Failed    []string `json:"failed"`
}

// ConsistencyChecker implements check_index/repair_index: it cross
// references the persisted IncrementalState against the live vector
// collection, and — unlike a log-only warning — Repair actually
// re-indexes missing files through an Orchestrator.
type ConsistencyChecker struct {
	repoRoot     string
	stateStore   *state.Store
	vector       vectorstore.Store
	collection   string
	orchestrator *Orchestrator
}

// NewConsistencyChecker constructs a checker bound to one repository's
// state store and vector collection. orchestrator is used only by
// Repair, to re-embed files found missing; pass nil if the caller only
// intends to call Check or QuickCheck.
func NewConsistencyChecker(repoRoot string, stateStore *state.Store, vector vectorstore.Store, collection string, orchestrator *Orchestrator) *ConsistencyChecker {
	return &ConsistencyChecker{
		repoRoot:     repoRoot,
		stateStore:   stateStore,
		vector:       vector,
		collection:   collection,
		orchestrator: orchestrator,
	}
}

// QuickCheck compares only aggregate counts: sum of ChunkCount across
// indexed FileRecords versus the collection's PointsCount. Cheap enough
// to run on every status poll.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (expected, actual int, err error) {
	snapshot, _, err := c.stateStore.Load(0)
	if err != nil {
		return 0, 0, err
	}
	for _, rec := range snapshot.Files {
		if rec.Status == state.StatusIndexed {
			expected += rec.ChunkCount
		}
	}
	actual, err = c.vector.PointsCount(ctx, c.collection)
	if err != nil {
		return expected, 0, err
	}
	return expected, actual, nil
}

// Check cross-references every FileRecord against the collection. When
// deepScan is false, it only checks that each indexed FileRecord's source
// file still exists on disk (fast, no collection reads); when true, it also
// scrolls the entire collection, verifies every point's payload references
// a live, indexed FileRecord, and compares each path's point count with its
// ChunkCount, catching orphans QuickCheck cannot see.
func (c *ConsistencyChecker) Check(ctx context.Context, deepScan bool) (*CheckResult, error) {
	snapshot, _, err := c.stateStore.Load(0)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{DeepScan: deepScan, FilesChecked: len(snapshot.Files)}

	for path, rec := range snapshot.Files {
		if rec.Status != state.StatusIndexed {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.repoRoot, path)); err != nil {
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:         InconsistencyFileMissing,
				RelativePath: path,
				Details:      "file recorded as indexed no longer exists on disk",
			})
		}
	}

	if !deepScan {
		return result, nil
	}

	countsByPath := make(map[string]int)
	cursor := ""
	for {
		points, next, err := c.vector.Scroll(ctx, c.collection, cursor, 256)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			result.PointsScanned++
			countsByPath[p.Payload.RelativePath]++

			rec, ok := snapshot.Files[p.Payload.RelativePath]
			if !ok || rec.Status != state.StatusIndexed {
				result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
					Type:         InconsistencyOrphanVector,
					RelativePath: p.Payload.RelativePath,
					Details:      fmt.Sprintf("point %d has no indexed file record", p.ID),
				})
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	for path, rec := range snapshot.Files {
		if rec.Status != state.StatusIndexed {
			continue
		}
		found := countsByPath[path]
		switch {
		case found == 0 && rec.ChunkCount > 0:
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:         InconsistencyMissingVector,
				RelativePath: path,
				Details:      fmt.Sprintf("expected %d points, found 0", rec.ChunkCount),
			})
		case found != rec.ChunkCount:
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:         InconsistencyCountMismatch,
				RelativePath: path,
				Details:      fmt.Sprintf("expected %d points, found %d", rec.ChunkCount, found),
			})
		}
	}

	return result, nil
}

// Repair acts on a prior Check's findings: orphan vector points are
// deleted outright; missing or count-mismatched files are re-indexed
// through the bound Orchestrator so the collection actually catches up,
// rather than only logging the gap.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (*RepairResult, error) {
	result := &RepairResult{}

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			if err := c.vector.DeleteByPath(ctx, c.collection, issue.RelativePath); err != nil {
				slog.Warn("repair_delete_orphan_failed", slog.String("path", issue.RelativePath), slog.String("error", err.Error()))
				result.Failed = append(result.Failed, issue.RelativePath)
				continue
			}
			result.Deleted = append(result.Deleted, issue.RelativePath)

		case InconsistencyMissingVector, InconsistencyCountMismatch, InconsistencyFileMissing:
			if c.orchestrator == nil {
				result.Failed = append(result.Failed, issue.RelativePath)
				continue
			}
			if err := c.orchestrator.ReindexFile(ctx, issue.RelativePath); err != nil {
				slog.Warn("repair_reindex_failed", slog.String("path", issue.RelativePath), slog.String("error", err.Error()))
				result.Failed = append(result.Failed, issue.RelativePath)
				continue
			}
			result.Reindexed = append(result.Reindexed, issue.RelativePath)
		}
	}

	return result, nil
}
