package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/codelens/internal/domain"
)

// CodebaseFileRepository keeps the latest snapshot of every file in a codebase.
type CodebaseFileRepository struct {
	db dbtx
}

func NewCodebaseFileRepository(pool *pgxpool.Pool) *CodebaseFileRepository {
	return &CodebaseFileRepository{db: pool}
}

func NewCodebaseFileRepositoryWithTx(tx pgx.Tx) *CodebaseFileRepository {
	return &CodebaseFileRepository{db: tx}
}

func (r *CodebaseFileRepository) SaveFiles(ctx context.Context, scopeID string, files []*domain.CodebaseFile) error {
	if len(files) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range files {
		updatedAt := f.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO codebase_files (codebase_id, path, content, language, lines, content_hash, imports, exports, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (codebase_id, path) DO UPDATE SET
			     content = EXCLUDED.content,
			     language = EXCLUDED.language,
			     lines = EXCLUDED.lines,
			     content_hash = EXCLUDED.content_hash,
			     imports = EXCLUDED.imports,
			     exports = EXCLUDED.exports,
			     updated_at = EXCLUDED.updated_at`,
			scopeID, f.Path, f.Content, f.Language, f.Lines, f.ContentHash,
			emptyIfNil(f.Imports), emptyIfNil(f.Exports), updatedAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	for range files {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

// GetFile returns nil without error when the path is not stored.
func (r *CodebaseFileRepository) GetFile(ctx context.Context, scopeID, filePath string) (*domain.CodebaseFile, error) {
	var f domain.CodebaseFile
	err := r.db.QueryRow(ctx,
		`SELECT codebase_id, path, content, language, lines, content_hash, imports, exports, updated_at
		 FROM codebase_files WHERE codebase_id = $1 AND path = $2`,
		scopeID, filePath,
	).Scan(&f.CodebaseID, &f.Path, &f.Content, &f.Language, &f.Lines, &f.ContentHash, &f.Imports, &f.Exports, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *CodebaseFileRepository) GetAllFiles(ctx context.Context, scopeID string) ([]*domain.CodebaseFile, error) {
	rows, err := r.db.Query(ctx,
		`SELECT codebase_id, path, content, language, lines, content_hash, imports, exports, updated_at
		 FROM codebase_files WHERE codebase_id = $1
		 ORDER BY path`,
		scopeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*domain.CodebaseFile
	for rows.Next() {
		var f domain.CodebaseFile
		if err := rows.Scan(&f.CodebaseID, &f.Path, &f.Content, &f.Language, &f.Lines, &f.ContentHash, &f.Imports, &f.Exports, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}
