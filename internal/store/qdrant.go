package store

import (
	"context"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/vaultrag/vaultrag/internal/chunk"
	"github.com/vaultrag/vaultrag/internal/errors"
)

// scrollPageSize bounds one Scroll request against the server.
const scrollPageSize = 10000

// QdrantOptions configures the remote backend connection.
type QdrantOptions struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore is the remote vector store backend. Point ids are UUIDv5
// digests of the chunk id; the original id, text, and normalized
// metadata travel in the payload.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	name     string
	logger   *slog.Logger
}

// NewQdrantStore connects to qdrant and ensures the collection exists
// with cosine distance and the embedder's dimensionality.
func NewQdrantStore(ctx context.Context, opts QdrantOptions, name string, embedder Embedder, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if embedder == nil {
		return nil, errors.ValidationError("qdrant store requires an embedder", nil)
	}
	if opts.Port == 0 {
		opts.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, errors.VectorStoreError("failed to create qdrant client", err).
			WithDetail("host", opts.Host)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		name:     name,
		logger:   logger,
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return errors.VectorStoreError("failed to list qdrant collections", err)
	}
	for _, c := range collections {
		if c == s.name {
			return nil
		}
	}

	dims := s.embedder.Dimensions()
	if dims <= 0 {
		return errors.ValidationError("embedder dimensions unknown, cannot create collection", nil).
			WithDetail("collection", s.name).
			WithSuggestion("Set embeddings.dimensions in the config or run the embedder once")
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errors.VectorStoreError("failed to create qdrant collection", err).
			WithDetail("collection", s.name)
	}
	s.logger.Info("qdrant_collection_created",
		slog.String("collection", s.name),
		slog.Int("dimensions", dims))
	return nil
}

// pointID derives the UUIDv5 point id for a chunk id.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// UpsertChunks embeds and writes all chunks for one file.
func (s *QdrantStore) UpsertChunks(ctx context.Context, chunks []chunk.Chunk, relativePath string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, errors.EmbeddingError("failed to embed chunks", err).
			WithDetail("relative_path", relativePath)
	}
	if len(vectors) != len(chunks) {
		return 0, errors.EmbeddingError("embedder returned wrong vector count", nil).
			WithDetail("relative_path", relativePath)
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		id := ChunkID(relativePath, i)
		payload := map[string]*qdrant.Value{
			"chunk_id": qdrant.NewValueString(id),
			"text":     qdrant.NewValueString(c.Text),
		}
		for k, v := range NormalizeMetadata(c.Metadata) {
			if qv := toQdrantValue(v); qv != nil {
				payload[k] = qv
			}
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(id)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.name,
		Points:         points,
	})
	if err != nil {
		return 0, errors.VectorStoreError("failed to upsert points", err).
			WithDetail("relative_path", relativePath)
	}
	return len(chunks), nil
}

// Query embeds text and returns the n nearest rows, closest first.
func (s *QdrantStore) Query(ctx context.Context, text string, n int, opts ...QueryOption) ([]Row, error) {
	if n <= 0 {
		return []Row{}, nil
	}
	o := applyQueryOptions(opts)

	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, errors.EmbeddingError("failed to embed query", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.name,
		Query:          qdrant.NewQuery(vec...),
		Filter:         buildFilter(o),
		WithPayload:    qdrant.NewWithPayload(true),
		Limit:          qdrant.PtrOf(uint64(n)),
	})
	if err != nil {
		return nil, errors.VectorStoreError("qdrant query failed", err)
	}

	rows := make([]Row, 0, len(points))
	for _, p := range points {
		row := rowFromPayload(p.Payload)
		// Cosine similarity back to cosine distance.
		row.Distance = 1 - float64(p.Score)
		rows = append(rows, row)
	}
	return rows, nil
}

// All scrolls the whole collection, sorted by id. Distances are NaN.
func (s *QdrantStore) All(ctx context.Context) ([]Row, error) {
	var rows []Row
	var offset *qdrant.PointId
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.name,
			WithPayload:    qdrant.NewWithPayload(true),
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			Offset:         offset,
		})
		if err != nil {
			return nil, errors.VectorStoreError("qdrant scroll failed", err)
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			row := rowFromPayload(p.Payload)
			row.Distance = math.NaN()
			rows = append(rows, row)
		}
		if len(points) < scrollPageSize {
			break
		}
		offset = points[len(points)-1].Id
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// DeleteByRelativePath removes every chunk of a file by payload filter.
func (s *QdrantStore) DeleteByRelativePath(ctx context.Context, relativePath string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("relative_path", relativePath),
					},
				},
			},
		},
	})
	if err != nil {
		return errors.VectorStoreError("failed to delete by relative path", err).
			WithDetail("relative_path", relativePath)
	}
	return nil
}

// DeleteChunksByPrefix removes the bounded id range by explicit point
// ids. Qdrant ignores ids that do not exist.
func (s *QdrantStore) DeleteChunksByPrefix(ctx context.Context, relativePath string, fromIndex int) error {
	if fromIndex < 0 {
		fromIndex = 0
	}

	ids := make([]*qdrant.PointId, 0, MaxChunksPerFile)
	for k := fromIndex; k < fromIndex+MaxChunksPerFile; k++ {
		ids = append(ids, qdrant.NewID(pointID(ChunkID(relativePath, k))))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return errors.VectorStoreError("failed to delete chunk range", err).
			WithDetail("relative_path", relativePath)
	}
	return nil
}

// Clear drops and recreates the collection.
func (s *QdrantStore) Clear(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.name); err != nil {
		return errors.VectorStoreError("failed to delete collection", err).
			WithDetail("collection", s.name)
	}
	return s.ensureCollection(ctx)
}

// Count returns the number of stored points.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.name)
	if err != nil {
		return 0, errors.VectorStoreError("failed to get collection info", err)
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return int(*info.PointsCount), nil
}

// Name returns the collection name.
func (s *QdrantStore) Name() string {
	return s.name
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildFilter maps query options onto a qdrant filter. Equality pairs
// become field matches; whereDocument becomes a full-text match on the
// text payload.
func buildFilter(o queryOptions) *qdrant.Filter {
	if !o.hasFilters() {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(o.where)+1)
	keys := make([]string, 0, len(o.where))
	for k := range o.where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conditions = append(conditions, qdrant.NewMatch(k, o.where[k]))
	}
	if o.whereDocument != "" {
		conditions = append(conditions, qdrant.NewMatchText("text", o.whereDocument))
	}
	return &qdrant.Filter{Must: conditions}
}

// rowFromPayload rebuilds a Row from point payload. Payload keys other
// than chunk_id and text are metadata.
func rowFromPayload(payload map[string]*qdrant.Value) Row {
	row := Row{Metadata: make(map[string]any, len(payload))}
	for k, v := range payload {
		switch k {
		case "chunk_id":
			row.ID = v.GetStringValue()
		case "text":
			row.Text = v.GetStringValue()
		default:
			row.Metadata[k] = fromQdrantValue(v)
		}
	}
	return row
}

// toQdrantValue converts a normalized metadata value. Returns nil for
// nil input; nil-valued keys are omitted from the payload.
func toQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return qdrant.NewValueString(val)
	case bool:
		return qdrant.NewValueBool(val)
	case int:
		return qdrant.NewValueInt(int64(val))
	case int8:
		return qdrant.NewValueInt(int64(val))
	case int16:
		return qdrant.NewValueInt(int64(val))
	case int32:
		return qdrant.NewValueInt(int64(val))
	case int64:
		return qdrant.NewValueInt(val)
	case uint:
		return qdrant.NewValueInt(int64(val))
	case uint8:
		return qdrant.NewValueInt(int64(val))
	case uint16:
		return qdrant.NewValueInt(int64(val))
	case uint32:
		return qdrant.NewValueInt(int64(val))
	case uint64:
		return qdrant.NewValueInt(int64(val))
	case float32:
		return qdrant.NewValueDouble(float64(val))
	case float64:
		return qdrant.NewValueDouble(val)
	default:
		return qdrant.NewValueString(stringifyMetaValue(v))
	}
}

func fromQdrantValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

var _ VectorStore = (*QdrantStore)(nil)

// APIKeyFromEnv resolves the qdrant api key named by the config, empty
// when unset.
func APIKeyFromEnv(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
