package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/codelens/internal/chunker"
	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/embedding"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

// CodebaseFileStore is a CodebaseStore that also accepts file snapshots
type CodebaseFileStore interface {
	CodebaseStore
	SaveFiles(ctx context.Context, scopeID string, files []*domain.CodebaseFile) error
}

// IndexedCodebases resolves codebases and records the outcome of an index run
type IndexedCodebases interface {
	CodebaseRegistry
	UpdateIndexStats(ctx context.Context, id string, files, chunks int, indexedAt time.Time) error
}

// ChunkEmbedder embeds chunks in rate-limited batches
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []domain.CodeChunk, progress embedding.ProgressFunc) (*domain.EmbeddingBatch, error)
}

// IndexingService turns stored source files into searchable vectors
type IndexingService struct {
	codebases IndexedCodebases
	files     CodebaseFileStore
	chunker   *chunker.Chunker
	embedder  ChunkEmbedder
	index     VectorIndex
	cache     *ContextCache
}

// NewIndexingService creates a new IndexingService. cache may be nil.
func NewIndexingService(
	codebases IndexedCodebases,
	files CodebaseFileStore,
	ch *chunker.Chunker,
	embedder ChunkEmbedder,
	index VectorIndex,
	cache *ContextCache,
) *IndexingService {
	if ch == nil {
		ch = chunker.New(chunker.DefaultConfig())
	}
	return &IndexingService{
		codebases: codebases,
		files:     files,
		chunker:   ch,
		embedder:  embedder,
		index:     index,
		cache:     cache,
	}
}

// SaveFiles validates and stores file snapshots without indexing them.
func (s *IndexingService) SaveFiles(ctx context.Context, scopeID string, files []*domain.CodebaseFile) ([]*domain.CodebaseFile, error) {
	if _, err := s.codebases.GetByID(ctx, scopeID); err != nil {
		return nil, err
	}
	prepared, err := prepareFiles(scopeID, files)
	if err != nil {
		return nil, err
	}
	if err := s.files.SaveFiles(ctx, scopeID, prepared); err != nil {
		return nil, fmt.Errorf("save files: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(scopeID)
	}
	return prepared, nil
}

// IndexCodebase stores files and rebuilds the scope's vectors from them.
// Chunks that fail to embed are reported, not fatal.
func (s *IndexingService) IndexCodebase(ctx context.Context, scopeID string, files []*domain.CodebaseFile, progress embedding.ProgressFunc) (*domain.IndexReport, error) {
	prepared, err := s.SaveFiles(ctx, scopeID, files)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, scopeID, prepared, progress)
}

// Reindex rebuilds the scope's vectors from the files already stored.
func (s *IndexingService) Reindex(ctx context.Context, scopeID string, progress embedding.ProgressFunc) (*domain.IndexReport, error) {
	if _, err := s.codebases.GetByID(ctx, scopeID); err != nil {
		return nil, err
	}
	files, err := s.files.GetAllFiles(ctx, scopeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return s.run(ctx, scopeID, files, progress)
}

// DeleteIndex removes every vector of a scope. Stored files are kept.
func (s *IndexingService) DeleteIndex(ctx context.Context, scopeID string) error {
	if _, err := s.codebases.GetByID(ctx, scopeID); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, scopeID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(scopeID)
	}
	return s.codebases.UpdateIndexStats(ctx, scopeID, 0, 0, time.Now().UTC())
}

func (s *IndexingService) run(ctx context.Context, scopeID string, files []*domain.CodebaseFile, progress embedding.ProgressFunc) (*domain.IndexReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "IndexingService.run", telemetry.SpanAttributes{
		ScopeID:   scopeID,
		Operation: "index",
	})
	defer span.End()

	start := time.Now()
	report := &domain.IndexReport{Files: len(files)}
	defer func() {
		report.Elapsed = time.Since(start)
	}()

	if err := s.index.Delete(ctx, scopeID); err != nil {
		span.SetError(err)
		return report, fmt.Errorf("delete old vectors: %w", err)
	}

	var chunks []domain.CodeChunk
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		chunks = append(chunks, s.chunker.Chunk(f.Path, f.Content, f.Language)...)
	}
	report.Chunks = len(chunks)
	span.SetData("chunks", len(chunks))

	batch, err := s.embedder.EmbedChunks(ctx, chunks, progress)
	if batch != nil {
		report.Embedded = len(batch.Embeddings)
		report.Failed = len(batch.Failed)
		report.SuccessRate = batch.SuccessRate
		report.Errors = append(report.Errors, batch.Errors...)
	}
	if err != nil {
		span.SetError(err)
		return report, fmt.Errorf("embed chunks: %w", err)
	}

	if len(batch.Embeddings) > 0 {
		vectors := batch.ByChunkID()
		kept := make([]domain.CodeChunk, 0, len(vectors))
		for _, c := range chunks {
			if _, ok := vectors[c.ID]; ok {
				kept = append(kept, c)
			}
		}
		if err := s.index.Upsert(ctx, scopeID, kept, batch.Embeddings); err != nil {
			span.SetError(err)
			return report, fmt.Errorf("upsert vectors: %w", err)
		}
	}

	if err := s.codebases.UpdateIndexStats(ctx, scopeID, len(files), report.Embedded, time.Now().UTC()); err != nil {
		return report, fmt.Errorf("update codebase stats: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(scopeID)
	}

	log.Printf("indexing: %s: %d files, %d chunks, %d embedded, %d failed",
		scopeID, report.Files, report.Chunks, report.Embedded, report.Failed)
	return report, nil
}

// prepareFiles validates paths and fills in the derived fields of each file.
func prepareFiles(scopeID string, files []*domain.CodebaseFile) ([]*domain.CodebaseFile, error) {
	out := make([]*domain.CodebaseFile, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := domain.ValidateFilePath(f.Path); err != nil {
			return nil, fmt.Errorf("%w: %s", err, f.Path)
		}
		if seen[f.Path] {
			return nil, domain.NewDomainError(domain.ErrCodeValidation, "duplicate file path: "+f.Path)
		}
		seen[f.Path] = true

		language := f.Language
		if language == "" {
			language = chunker.DetectLanguage(f.Path, f.Content)
		}
		file := domain.NewCodebaseFile(scopeID, f.Path, f.Content, language)
		_, file.Imports = chunker.Imports(language, f.Content)
		file.Exports = chunker.Exports(language, f.Content)
		out = append(out, file)
	}
	return out, nil
}
