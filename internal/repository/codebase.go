package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/pagination"
)

type CodebaseRepository struct {
	db dbtx
}

func NewCodebaseRepository(pool *pgxpool.Pool) *CodebaseRepository {
	return &CodebaseRepository{db: pool}
}

func NewCodebaseRepositoryWithTx(tx pgx.Tx) *CodebaseRepository {
	return &CodebaseRepository{db: tx}
}

func (r *CodebaseRepository) Create(ctx context.Context, c *domain.Codebase) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO codebases (id, name, file_count, chunk_count, created_at, indexed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.FileCount, c.ChunkCount, c.CreatedAt, c.IndexedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrCodebaseAlreadyExists
	}
	return err
}

func (r *CodebaseRepository) GetByID(ctx context.Context, id string) (*domain.Codebase, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrCodebaseNotFound
	}
	return r.getOne(ctx,
		`SELECT id, name, file_count, chunk_count, created_at, indexed_at FROM codebases WHERE id = $1`,
		id,
	)
}

func (r *CodebaseRepository) GetByName(ctx context.Context, name string) (*domain.Codebase, error) {
	return r.getOne(ctx,
		`SELECT id, name, file_count, chunk_count, created_at, indexed_at FROM codebases WHERE name = $1`,
		name,
	)
}

func (r *CodebaseRepository) getOne(ctx context.Context, query string, arg string) (*domain.Codebase, error) {
	var c domain.Codebase
	err := r.db.QueryRow(ctx, query, arg).
		Scan(&c.ID, &c.Name, &c.FileCount, &c.ChunkCount, &c.CreatedAt, &c.IndexedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCodebaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListWithCursor pages codebases newest first.
func (r *CodebaseRepository) ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Codebase], error) {
	limit = pagination.ClampLimit(limit)

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, name, file_count, chunk_count, created_at, indexed_at FROM codebases
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, name, file_count, chunk_count, created_at, indexed_at FROM codebases
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codebases := []*domain.Codebase{}
	for rows.Next() {
		var c domain.Codebase
		if err := rows.Scan(&c.ID, &c.Name, &c.FileCount, &c.ChunkCount, &c.CreatedAt, &c.IndexedAt); err != nil {
			return nil, err
		}
		codebases = append(codebases, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pagination.NewPage(codebases, limit,
		func(c *domain.Codebase) string { return c.ID },
		func(c *domain.Codebase) time.Time { return c.CreatedAt },
	), nil
}

func (r *CodebaseRepository) UpdateIndexStats(ctx context.Context, id string, files, chunks int, indexedAt time.Time) error {
	var at *time.Time
	if !indexedAt.IsZero() {
		at = &indexedAt
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE codebases SET file_count = $1, chunk_count = $2, indexed_at = $3 WHERE id = $4`,
		files, chunks, at, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCodebaseNotFound
	}
	return nil
}

// Delete removes the codebase; files, chunks and jobs cascade.
func (r *CodebaseRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrCodebaseNotFound
	}
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM codebases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrCodebaseNotFound
	}
	return nil
}
