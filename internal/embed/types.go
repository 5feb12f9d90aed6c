package embed

import (
	"context"
	"math"
	"time"
)

// TaskHint distinguishes how the provider should treat a piece of text
// being embedded: as retrievable document content or as a search query.
// Providers that expose Google's text-embedding-004 task-type parameter
// use these values directly; others may ignore the hint.
type TaskHint string

const (
	TaskDocument TaskHint = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskHint = "RETRIEVAL_QUERY"
)

// Batch/profile constants.
const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion).
	MaxBatchSize = 256

	// DefaultBatchSize is the parallel-profile batch width.
	DefaultBatchSize = 25

	// RequestTimeout bounds a single HTTP embedding call, applied via
	// context.WithTimeout per call rather than http.Client.Timeout, so a
	// retry gets a fresh deadline.
	RequestTimeout = 30 * time.Second

	// SerialMinGap is the minimum spacing between successive requests in
	// the serial execution profile.
	SerialMinGap = 1500 * time.Millisecond
)

// Retry/backoff schedule, separate per execution profile.
const (
	ParallelBackoffBase = 2 * time.Second
	ParallelMaxRetries  = 3

	SerialBackoffBase = 5 * time.Second
	SerialMaxRetries  = 5

	MaxBackoff = 60 * time.Second
)

// DefaultDimensions is the embedding dimension assumed when a model's
// dimension isn't otherwise configured.
const DefaultDimensions = 768

// Embedder generates vector embeddings for text against a remote provider.
type Embedder interface {
	// Embed generates an embedding for a single text under the given hint.
	Embed(ctx context.Context, text string, hint TaskHint) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in source order,
	// dispatched according to the configured ModelProfile.
	EmbedBatch(ctx context.Context, texts []string, hint TaskHint) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources (idle HTTP connections).
	Close() error
}

// normalizeVector normalizes a vector to unit length. Zero vectors are
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
