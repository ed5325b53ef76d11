// Package qdrant implements the vector index on a Qdrant collection shared by
// every codebase. Points are partitioned by the scope_id payload field.
package qdrant

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

const (
	fieldScopeID      = "scope_id"
	fieldChunkID      = "chunk_id"
	fieldContent      = "content"
	fieldKind         = "kind"
	fieldName         = "name"
	fieldFilePath     = "file_path"
	fieldStartLine    = "start_line"
	fieldEndLine      = "end_line"
	fieldLanguage     = "language"
	fieldComplexity   = "complexity"
	fieldDependencies = "dependencies"
	fieldExports      = "exports"
	fieldImports      = "imports"
	fieldKeywords     = "keywords"
	fieldParentChunk  = "parent_chunk"
	fieldModel        = "model"

	defaultTopK = 10

	// query responses carry chunk content in the payload
	maxRecvMsgSize = 64 << 20
)

// pointNamespace derives point ids from scope and chunk id so that the same
// chunk in two codebases never collides.
var pointNamespace = uuid.MustParse("6f1c2a9e-3d43-4f0b-9a8e-2b51c4e7d0a1")

type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Index is a vector index backed by Qdrant.
type Index struct {
	client     *pb.Client
	collection string

	mu    sync.Mutex
	ready bool
}

// New connects to Qdrant. The collection is created on first upsert, sized
// to the first vector written.
func New(cfg Config) (*Index, error) {
	if cfg.Collection == "" {
		cfg.Collection = "code_chunks"
	}
	client, err := pb.NewClient(&pb.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Index{client: client, collection: cfg.Collection}, nil
}

func (ix *Index) Close() error {
	return ix.client.Close()
}

func (ix *Index) ensureCollection(ctx context.Context, dimensions int) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ready {
		return nil
	}

	exists, err := ix.client.CollectionExists(ctx, ix.collection)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	if !exists {
		err := ix.client.CreateCollection(ctx, &pb.CreateCollection{
			CollectionName: ix.collection,
			VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
				Size:     uint64(dimensions),
				Distance: pb.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("%w: create collection %s: %w", domain.ErrVectorIndexUnavailable, ix.collection, err)
		}
		for _, field := range []string{fieldScopeID, fieldLanguage} {
			_, err := ix.client.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
				CollectionName: ix.collection,
				FieldName:      field,
				FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
			})
			if err != nil {
				return fmt.Errorf("%w: index field %s: %w", domain.ErrVectorIndexUnavailable, field, err)
			}
		}
		log.Printf("qdrant: created collection %s (%d dimensions)", ix.collection, dimensions)
	}
	ix.ready = true
	return nil
}

// Upsert stores every chunk that has an embedding.
func (ix *Index) Upsert(ctx context.Context, scopeID string, chunks []domain.CodeChunk, embeddings []domain.EmbeddingResult) error {
	byID := make(map[string]domain.EmbeddingResult, len(embeddings))
	for _, e := range embeddings {
		byID[e.ChunkID] = e
	}

	points := make([]*pb.PointStruct, 0, len(embeddings))
	for _, c := range chunks {
		e, ok := byID[c.ID]
		if !ok {
			continue
		}
		points = append(points, newPoint(scopeID, c, e))
	}
	if len(points) == 0 {
		return nil
	}

	if err := ix.ensureCollection(ctx, len(embeddings[0].Vector)); err != nil {
		return err
	}

	wait := true
	_, err := ix.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: ix.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", domain.ErrVectorIndexUnavailable, err)
	}
	return nil
}

func (ix *Index) Query(ctx context.Context, q domain.VectorQuery) ([]domain.SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "qdrant.Query", telemetry.SpanAttributes{
		ScopeID:   q.ScopeID,
		Operation: "vector_query",
		Backend:   "qdrant",
	})
	defer span.End()

	if len(q.Embedding) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "qdrant index only answers embedding queries")
	}
	exists, err := ix.client.CollectionExists(ctx, ix.collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	if !exists {
		return nil, nil
	}

	limit := uint64(q.TopK)
	if limit == 0 {
		limit = defaultTopK
	}
	hits, err := ix.client.Query(ctx, &pb.QueryPoints{
		CollectionName: ix.collection,
		Query:          pb.NewQuery(q.Embedding...),
		Filter:         scopeFilter(q.ScopeID, q.Languages),
		Limit:          &limit,
		WithPayload:    pb.NewWithPayload(true),
	})
	if status.Code(err) == codes.NotFound {
		// collection dropped since the existence check
		return nil, nil
	}
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("%w: query: %w", domain.ErrVectorIndexUnavailable, err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, resultFromPayload(hit.GetPayload(), float64(hit.GetScore())))
	}
	return results, nil
}

func (ix *Index) Delete(ctx context.Context, scopeID string) error {
	exists, err := ix.client.CollectionExists(ctx, ix.collection)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	if !exists {
		return nil
	}

	wait := true
	_, err = ix.client.Delete(ctx, &pb.DeletePoints{
		CollectionName: ix.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: scopeFilter(scopeID, nil),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %w", domain.ErrVectorIndexUnavailable, err)
	}
	return nil
}

func (ix *Index) Health(ctx context.Context) (*domain.IndexHealth, error) {
	health := &domain.IndexHealth{Backend: "qdrant"}
	if _, err := ix.client.HealthCheck(ctx); err != nil {
		return health, fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	health.Connected = true

	exists, err := ix.client.CollectionExists(ctx, ix.collection)
	if err != nil {
		return health, fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	if !exists {
		return health, nil
	}

	exact := true
	count, err := ix.client.Count(ctx, &pb.CountPoints{
		CollectionName: ix.collection,
		Exact:          &exact,
	})
	if err != nil {
		return health, fmt.Errorf("%w: count: %w", domain.ErrVectorIndexUnavailable, err)
	}
	n := int64(count)
	health.IndexReady = true
	health.VectorCount = &n
	return health, nil
}

func pointID(scopeID, chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(scopeID+"/"+chunkID)).String()
}

func newPoint(scopeID string, c domain.CodeChunk, e domain.EmbeddingResult) *pb.PointStruct {
	m := domain.MetadataFromChunk(scopeID, c)
	return &pb.PointStruct{
		Id:      pb.NewID(pointID(scopeID, c.ID)),
		Vectors: pb.NewVectors(e.Vector...),
		Payload: pb.NewValueMap(map[string]any{
			fieldScopeID:      scopeID,
			fieldChunkID:      c.ID,
			fieldContent:      m.Content,
			fieldKind:         m.Kind,
			fieldName:         m.Name,
			fieldFilePath:     m.FilePath,
			fieldStartLine:    int64(m.StartLine),
			fieldEndLine:      int64(m.EndLine),
			fieldLanguage:     m.Language,
			fieldComplexity:   int64(m.Complexity),
			fieldDependencies: anyList(m.Dependencies),
			fieldExports:      anyList(m.Exports),
			fieldImports:      anyList(m.Imports),
			fieldKeywords:     anyList(m.Keywords),
			fieldParentChunk:  m.ParentChunk,
			fieldModel:        e.Model,
		}),
	}
}

func scopeFilter(scopeID string, languages []string) *pb.Filter {
	must := []*pb.Condition{pb.NewMatch(fieldScopeID, scopeID)}
	if len(languages) > 0 {
		must = append(must, pb.NewMatchKeywords(fieldLanguage, languages...))
	}
	return &pb.Filter{Must: must}
}

func resultFromPayload(payload map[string]*pb.Value, score float64) domain.SearchResult {
	return domain.SearchResult{
		ChunkID: stringValue(payload[fieldChunkID]),
		Score:   score,
		Metadata: domain.IndexMetadata{
			ScopeID:      stringValue(payload[fieldScopeID]),
			Content:      stringValue(payload[fieldContent]),
			Kind:         stringValue(payload[fieldKind]),
			Name:         stringValue(payload[fieldName]),
			FilePath:     stringValue(payload[fieldFilePath]),
			StartLine:    intValue(payload[fieldStartLine]),
			EndLine:      intValue(payload[fieldEndLine]),
			Language:     stringValue(payload[fieldLanguage]),
			Complexity:   intValue(payload[fieldComplexity]),
			Dependencies: stringList(payload[fieldDependencies]),
			Exports:      stringList(payload[fieldExports]),
			Imports:      stringList(payload[fieldImports]),
			Keywords:     stringList(payload[fieldKeywords]),
			ParentChunk:  stringValue(payload[fieldParentChunk]),
		},
	}
}

func anyList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func stringValue(v *pb.Value) string {
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

func intValue(v *pb.Value) int {
	if v == nil {
		return 0
	}
	if i := v.GetIntegerValue(); i != 0 {
		return int(i)
	}
	return int(v.GetDoubleValue())
}

func stringList(v *pb.Value) []string {
	if v == nil {
		return nil
	}
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, item := range values {
		out = append(out, item.GetStringValue())
	}
	return out
}
