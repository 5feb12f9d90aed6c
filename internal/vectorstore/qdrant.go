package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	aerrors "github.com/amanmcp/codesearch/internal/errors"
)

// QdrantStore implements Store against a Qdrant vector database. Logging
// at this one HTTP/gRPC boundary uses zerolog (the rest of the module
// stays on log/slog) — grounded in the First008-mesh Qdrant adapter this
// package is modeled on.
type QdrantStore struct {
	client *qdrant.Client
	logger zerolog.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore dials Qdrant's gRPC endpoint. host/port come from
// config.VectorURL; apiKey is optional (empty disables the header).
func NewQdrantStore(host string, port int, apiKey string, logger zerolog.Logger) (*QdrantStore, error) {
	cfg := &qdrant.Config{
		Host: host,
		Port: port,
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.UseTLS = true
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, aerrors.FatalInfrastructureError("connect to qdrant", err)
	}
	return &QdrantStore{client: client, logger: logger}, nil
}

// EnsureCollection creates the collection with cosine distance and
// payload field indexes on relativePath/kind/language if it doesn't
// exist. If it exists with a different dimension, it refuses with a
// DimensionMismatchError rather than silently reusing it — a dimension
// change requires a new collection name or a full rebuild (spec §9).
func (q *QdrantStore) EnsureCollection(ctx context.Context, desc CollectionDescriptor) error {
	exists, err := q.client.CollectionExists(ctx, desc.Name)
	if err != nil {
		return aerrors.TransientProviderError("check qdrant collection exists", err)
	}

	if exists {
		info, err := q.client.GetCollectionInfo(ctx, desc.Name)
		if err != nil {
			return aerrors.TransientProviderError("get qdrant collection info", err)
		}
		existingDim := collectionDimension(info)
		if existingDim != 0 && existingDim != desc.Dimension {
			return aerrors.DimensionMismatchError(fmt.Sprintf(
				"collection %q has dimension %d, configured model requires %d — create a new collection or rebuild",
				desc.Name, existingDim, desc.Dimension))
		}
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: desc.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(desc.Dimension),
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return aerrors.FatalInfrastructureError("create qdrant collection", err)
	}

	for _, field := range []string{"relativePath", "kind", "language"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: desc.Name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		}); err != nil {
			q.logger.Warn().Err(err).Str("field", field).Msg("failed to create payload index")
		}
	}

	q.logger.Info().Str("collection", desc.Name).Int("dimension", desc.Dimension).Msg("qdrant collection created")
	return nil
}

func collectionDimension(info *qdrant.CollectionInfo) int {
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0
	}
	return int(params.GetSize())
}

// UpsertBatch upserts every point in one call; Qdrant replaces points
// sharing an id.
func (q *QdrantStore) UpsertBatch(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payloadToMap(p.Payload)),
		})
	}
	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         structs,
		Wait:           &wait,
	})
	if err != nil {
		return aerrors.TransientProviderError("upsert qdrant points", err)
	}
	return nil
}

// DeleteByPath removes every point whose relativePath payload field
// matches. Mandatory before re-upserting a modified file's chunks, so
// functions removed from the file don't leave stale points behind.
func (q *QdrantStore) DeleteByPath(ctx context.Context, collection string, relativePath string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: pathFilter(relativePath),
			},
		},
	})
	if err != nil {
		return aerrors.TransientProviderError("delete qdrant points by path", err)
	}
	return nil
}

func pathFilter(relativePath string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "relativePath",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: relativePath},
						},
					},
				},
			},
		},
	}
}

func buildFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var conds []*qdrant.Condition
	add := func(key, value string) {
		if value == "" {
			return
		}
		conds = append(conds, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
				},
			},
		})
	}
	add("relativePath", f.RelativePath)
	add("kind", f.Kind)
	add("language", f.Language)
	if len(conds) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conds}
}

// Search returns the top-k points by cosine similarity. Qdrant's native
// score range is [-1, 1]; it is returned as-is, not remapped.
func (q *QdrantStore) Search(ctx context.Context, collection string, queryVector []float32, k int, filter *Filter) ([]SearchResult, error) {
	limit := uint64(k)
	resp, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryVector...),
		Filter:         buildFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, aerrors.TransientProviderError("qdrant query", err)
	}

	results := make([]SearchResult, 0, len(resp))
	for _, point := range resp {
		results = append(results, SearchResult{
			ID:      pointIDOf(point.GetId()),
			Score:   point.GetScore(),
			Payload: mapToPayload(point.GetPayload()),
		})
	}
	sortResults(results)
	return results, nil
}

// sortResults enforces the spec's tie-break rule: strictly non-increasing
// score, ties broken by ascending id. Qdrant already returns results
// ranked by score, but ties are resorted defensively.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// Scroll pages through every point, used by check_index/repair_index.
func (q *QdrantStore) Scroll(ctx context.Context, collection string, cursor string, pageSize int) ([]Point, string, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          uint32Ptr(uint32(pageSize)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if cursor != "" {
		if id, err := strconv.ParseUint(cursor, 10, 64); err == nil {
			req.Offset = qdrant.NewIDNum(id)
		}
	}

	resp, err := q.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", aerrors.TransientProviderError("qdrant scroll", err)
	}

	points := make([]Point, 0, len(resp))
	for _, p := range resp {
		points = append(points, Point{
			ID:      pointIDOf(p.GetId()),
			Payload: mapToPayload(p.GetPayload()),
		})
	}

	var next string
	if len(points) == pageSize {
		next = strconv.FormatUint(points[len(points)-1].ID, 10)
	}
	return points, next, nil
}

// PointsCount returns the collection's total point count.
func (q *QdrantStore) PointsCount(ctx context.Context, collection string) (int, error) {
	info, err := q.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, aerrors.TransientProviderError("get qdrant collection info", err)
	}
	return int(info.GetPointsCount()), nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}

func payloadToMap(p Payload) map[string]any {
	return map[string]any{
		"relativePath":   p.RelativePath,
		"kind":           p.Kind,
		"name":           p.Name,
		"startLine":      int64(p.StartLine),
		"endLine":        int64(p.EndLine),
		"language":       p.Language,
		"contentSnippet": p.ContentSnippet,
		"fileHash":       p.FileHash,
		"chunkOrdinal":   int64(p.ChunkOrdinal),
	}
}

func mapToPayload(values map[string]*qdrant.Value) Payload {
	return Payload{
		RelativePath:   stringValue(values, "relativePath"),
		Kind:           stringValue(values, "kind"),
		Name:           stringValue(values, "name"),
		StartLine:      int(intValue(values, "startLine")),
		EndLine:        int(intValue(values, "endLine")),
		Language:       stringValue(values, "language"),
		ContentSnippet: stringValue(values, "contentSnippet"),
		FileHash:       stringValue(values, "fileHash"),
		ChunkOrdinal:   int(intValue(values, "chunkOrdinal")),
	}
}

func stringValue(values map[string]*qdrant.Value, key string) string {
	if v, ok := values[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func intValue(values map[string]*qdrant.Value, key string) int64 {
	if v, ok := values[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func pointIDOf(id *qdrant.PointId) uint64 {
	if id == nil {
		return 0
	}
	return id.GetNum()
}

func uint32Ptr(v uint32) *uint32 { return &v }
