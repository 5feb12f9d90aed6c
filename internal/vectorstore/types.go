// Package vectorstore adapts the indexer to an external vector database.
// The production adapter talks to Qdrant (github.com/qdrant/go-client);
// collections are created with a fixed dimension and cosine distance,
// points are upserted/deleted by deterministic id, and search returns
// Qdrant's native cosine similarity score (documented range [-1, 1] —
// not remapped to [0, 1], see DESIGN.md).
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Payload mirrors a CodeChunk's searchable metadata. The field set and
// JSON-ish key names are bit-exact across schema versions per spec §6.
type Payload struct {
	RelativePath    string `json:"relativePath"`
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	StartLine       int    `json:"startLine"`
	EndLine         int    `json:"endLine"`
	Language        string `json:"language"`
	ContentSnippet  string `json:"contentSnippet"`
	FileHash        string `json:"fileHash"`
	ChunkOrdinal    int    `json:"chunkOrdinal"`
}

// Point is a point in the vector store: a deterministic id (derived from
// the chunk id, so re-embedding a chunk overwrites rather than
// duplicates), a fixed-dimension vector, and its payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// PointID derives a deterministic point id from "<relativePath>#<startLine>#<ordinal>",
// per spec §6. The first 8 bytes of the SHA-256 digest become a uint64 —
// Qdrant's numeric point-id type — so re-upserting the same chunk always
// overwrites the same point.
func PointID(relativePath string, startLine, ordinal int) uint64 {
	key := fmt.Sprintf("%s#%d#%d", relativePath, startLine, ordinal)
	sum := sha256.Sum256([]byte(key))
	return binary.LittleEndian.Uint64(sum[:8])
}

// Distance names the similarity metric a collection was created with.
// Only Cosine is used; the type exists so EnsureCollection and tests can
// make the choice explicit rather than implicit.
type Distance string

const (
	DistanceCosine Distance = "cosine"
)

// CollectionDescriptor is the immutable shape of a collection: once
// created, Dimension and Distance never change for that name. Changing
// the embedding model requires a new collection name or a full rebuild
// (spec §3, §9 Open Question — resolved as a hard refusal in
// EnsureCollection below).
type CollectionDescriptor struct {
	Name      string
	Dimension int
	Distance  Distance
}

// SearchResult is one ranked hit: the point id, its similarity score,
// and its payload.
type SearchResult struct {
	ID      uint64
	Score   float32
	Payload Payload
}

// Filter restricts a search or scroll to points whose payload matches.
// A zero-value Filter matches everything. Non-empty fields are ANDed.
type Filter struct {
	RelativePath string
	Kind         string
	Language     string
}

// Store is the Vector Store Adapter contract (spec §4.5, component C5).
type Store interface {
	// EnsureCollection is idempotent. If the collection exists with a
	// different dimension, it returns a DimensionMismatch error (the
	// orchestrator treats this as ConfigurationError / "rebuild
	// required"). If absent, it creates the collection with cosine
	// distance and payload indexes on relativePath, kind, and language.
	EnsureCollection(ctx context.Context, desc CollectionDescriptor) error

	// UpsertBatch replaces any existing points sharing an id. One batch
	// is atomic from the caller's perspective.
	UpsertBatch(ctx context.Context, collection string, points []Point) error

	// DeleteByPath removes every point whose payload relativePath equals
	// the given value.
	DeleteByPath(ctx context.Context, collection string, relativePath string) error

	// Search returns the top-k points by similarity, descending score,
	// ties broken by ascending id.
	Search(ctx context.Context, collection string, queryVector []float32, k int, filter *Filter) ([]SearchResult, error)

	// Scroll pages through every point in the collection; used by
	// consistency checks. An empty cursor starts from the beginning; a
	// non-empty returned cursor means more pages remain.
	Scroll(ctx context.Context, collection string, cursor string, pageSize int) ([]Point, string, error)

	// PointsCount returns the total point count, used for status
	// reporting and the state-store consistency check.
	PointsCount(ctx context.Context, collection string) (int, error)

	// Close releases the underlying client connection.
	Close() error
}

// bytesPerDimAt768 approximates storage for status reporting: ~3.5
// KiB per 768-dimension point (spec §4.8), scaled linearly by dimension.
const bytesPerDimAt768 = 3584.0 / 768.0

// EstimatedBytes approximates the on-disk footprint of count points at
// the given dimension.
func EstimatedBytes(count, dimension int) int64 {
	return int64(float64(count) * float64(dimension) * bytesPerDimAt768)
}
