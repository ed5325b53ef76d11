package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

const chunkColumns = `id, file_path, kind, name, start_line, end_line, language, content, complexity,
	dependencies, exports, imports, keywords, parent_chunk`

// ChunkVectorRepository is a vector index backed by the code_chunks table.
type ChunkVectorRepository struct {
	db dbtx
}

func NewChunkVectorRepository(pool *pgxpool.Pool) *ChunkVectorRepository {
	return &ChunkVectorRepository{db: pool}
}

func NewChunkVectorRepositoryWithTx(tx pgx.Tx) *ChunkVectorRepository {
	return &ChunkVectorRepository{db: tx}
}

// Upsert stores every chunk that has an embedding. Chunks without one are
// skipped.
func (r *ChunkVectorRepository) Upsert(ctx context.Context, scopeID string, chunks []domain.CodeChunk, embeddings []domain.EmbeddingResult) error {
	if _, err := uuid.Parse(scopeID); err != nil {
		return domain.ErrCodebaseNotFound
	}

	byID := make(map[string]domain.EmbeddingResult, len(embeddings))
	for _, e := range embeddings {
		byID[e.ChunkID] = e
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		e, ok := byID[c.ID]
		if !ok {
			continue
		}
		m := domain.MetadataFromChunk(scopeID, c)
		batch.Queue(
			`INSERT INTO code_chunks
				(codebase_id, id, file_path, kind, name, start_line, end_line, language, content, complexity,
				 dependencies, exports, imports, keywords, parent_chunk, model, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			 ON CONFLICT (codebase_id, id) DO UPDATE SET
			     file_path = EXCLUDED.file_path,
			     kind = EXCLUDED.kind,
			     name = EXCLUDED.name,
			     start_line = EXCLUDED.start_line,
			     end_line = EXCLUDED.end_line,
			     language = EXCLUDED.language,
			     content = EXCLUDED.content,
			     complexity = EXCLUDED.complexity,
			     dependencies = EXCLUDED.dependencies,
			     exports = EXCLUDED.exports,
			     imports = EXCLUDED.imports,
			     keywords = EXCLUDED.keywords,
			     parent_chunk = EXCLUDED.parent_chunk,
			     model = EXCLUDED.model,
			     embedding = EXCLUDED.embedding`,
			scopeID, c.ID, m.FilePath, m.Kind, m.Name, m.StartLine, m.EndLine, m.Language, m.Content, m.Complexity,
			emptyIfNil(m.Dependencies), emptyIfNil(m.Exports), emptyIfNil(m.Imports), emptyIfNil(m.Keywords),
			nullableString(m.ParentChunk), e.Model, pgvector.NewVector(e.Vector),
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	results := r.db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("%w: upsert chunk: %w", domain.ErrVectorIndexUnavailable, err)
		}
	}
	return results.Close()
}

// Query ranks chunks by cosine similarity, or by full-text rank when only
// q.Text is set. Vectors whose dimension differs from the query are ignored.
func (r *ChunkVectorRepository) Query(ctx context.Context, q domain.VectorQuery) ([]domain.SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "pgvector.Query", telemetry.SpanAttributes{
		ScopeID:   q.ScopeID,
		Operation: "vector_query",
		Backend:   "pgvector",
	})
	defer span.End()

	if _, err := uuid.Parse(q.ScopeID); err != nil {
		return nil, nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	languages := emptyIfNil(q.Languages)

	var rows pgx.Rows
	var err error
	switch {
	case len(q.Embedding) > 0:
		vec := pgvector.NewVector(q.Embedding)
		rows, err = r.db.Query(ctx,
			`SELECT `+chunkColumns+`, 1 - (embedding <=> $1) AS score
			 FROM code_chunks
			 WHERE codebase_id = $2
			   AND vector_dims(embedding) = $3
			   AND (cardinality($4::text[]) = 0 OR language = ANY($4))
			 ORDER BY embedding <=> $1
			 LIMIT $5`,
			vec, q.ScopeID, len(q.Embedding), languages, topK,
		)
	case q.Text != "":
		rows, err = r.db.Query(ctx,
			`SELECT `+chunkColumns+`, ts_rank(search_tsv, plainto_tsquery('simple', $1), 32) AS score
			 FROM code_chunks
			 WHERE codebase_id = $2
			   AND search_tsv @@ plainto_tsquery('simple', $1)
			   AND (cardinality($3::text[]) = 0 OR language = ANY($3))
			 ORDER BY score DESC, id
			 LIMIT $4`,
			q.Text, q.ScopeID, languages, topK,
		)
	default:
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "vector query needs an embedding or text")
	}
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var res domain.SearchResult
		var parent pgtype.Text
		m := &res.Metadata
		if err := rows.Scan(&res.ChunkID, &m.FilePath, &m.Kind, &m.Name, &m.StartLine, &m.EndLine, &m.Language,
			&m.Content, &m.Complexity, &m.Dependencies, &m.Exports, &m.Imports, &m.Keywords, &parent, &res.Score); err != nil {
			return nil, err
		}
		if parent.Valid {
			m.ParentChunk = parent.String
		}
		m.ScopeID = q.ScopeID
		results = append(results, res)
	}
	return results, rows.Err()
}

func (r *ChunkVectorRepository) Delete(ctx context.Context, scopeID string) error {
	if _, err := uuid.Parse(scopeID); err != nil {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM code_chunks WHERE codebase_id = $1`, scopeID)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	return nil
}

func (r *ChunkVectorRepository) Health(ctx context.Context) (*domain.IndexHealth, error) {
	health := &domain.IndexHealth{Backend: "pgvector"}

	var installed bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`,
	).Scan(&installed); err != nil {
		return health, fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	health.Connected = true
	if !installed {
		return health, nil
	}

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM code_chunks`).Scan(&count); err != nil {
		return health, fmt.Errorf("%w: %w", domain.ErrVectorIndexUnavailable, err)
	}
	health.IndexReady = true
	health.VectorCount = &count
	return health, nil
}
