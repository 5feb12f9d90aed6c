package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	aerrors "github.com/amanmcp/codesearch/internal/errors"
)

// FakeStore is an in-memory Store used by orchestrator and search tests —
// it has no network dependency and lets tests assert on exact upsert/delete
// call sequences, unlike a real Qdrant instance.
type FakeStore struct {
	mu          sync.Mutex
	collections map[string]CollectionDescriptor
	points      map[string]map[uint64]Point
}

var _ Store = (*FakeStore)(nil)

// NewFakeStore returns an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		collections: make(map[string]CollectionDescriptor),
		points:      make(map[string]map[uint64]Point),
	}
}

func (f *FakeStore) EnsureCollection(_ context.Context, desc CollectionDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.collections[desc.Name]; ok {
		if existing.Dimension != desc.Dimension {
			return aerrors.DimensionMismatchError(fmt.Sprintf(
				"collection %q has dimension %d, configured model requires %d",
				desc.Name, existing.Dimension, desc.Dimension))
		}
		return nil
	}
	f.collections[desc.Name] = desc
	f.points[desc.Name] = make(map[uint64]Point)
	return nil
}

func (f *FakeStore) UpsertBatch(_ context.Context, collection string, points []Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, ok := f.points[collection]
	if !ok {
		bucket = make(map[uint64]Point)
		f.points[collection] = bucket
	}
	for _, p := range points {
		bucket[p.ID] = p
	}
	return nil
}

func (f *FakeStore) DeleteByPath(_ context.Context, collection string, relativePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, ok := f.points[collection]
	if !ok {
		return nil
	}
	for id, p := range bucket {
		if p.Payload.RelativePath == relativePath {
			delete(bucket, id)
		}
	}
	return nil
}

func (f *FakeStore) Search(_ context.Context, collection string, queryVector []float32, k int, filter *Filter) ([]SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := f.points[collection]

	results := make([]SearchResult, 0, len(bucket))
	for _, p := range bucket {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:      p.ID,
			Score:   cosineSimilarity(queryVector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (f *FakeStore) Scroll(_ context.Context, collection string, cursor string, pageSize int) ([]Point, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := f.points[collection]

	ids := make([]uint64, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if cursorValue(id) == cursor {
				start = i + 1
				break
			}
		}
	}

	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}

	page := make([]Point, 0, end-start)
	for _, id := range ids[start:end] {
		page = append(page, bucket[id])
	}

	var next string
	if end < len(ids) {
		next = cursorValue(ids[end-1])
	}
	return page, next, nil
}

func (f *FakeStore) PointsCount(_ context.Context, collection string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points[collection]), nil
}

func (f *FakeStore) Close() error { return nil }

func matchesFilter(p Payload, f *Filter) bool {
	if f == nil {
		return true
	}
	if f.RelativePath != "" && f.RelativePath != p.RelativePath {
		return false
	}
	if f.Kind != "" && f.Kind != p.Kind {
		return false
	}
	if f.Language != "" && f.Language != p.Language {
		return false
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func cursorValue(id uint64) string {
	return strconv.FormatUint(id, 10)
}
