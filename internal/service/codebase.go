package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/pagination"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

// CodebaseRepositoryInterface defines the repository interface for codebase persistence
type CodebaseRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Codebase) error
	GetByID(ctx context.Context, id string) (*domain.Codebase, error)
	GetByName(ctx context.Context, name string) (*domain.Codebase, error)
	ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Codebase], error)
	UpdateIndexStats(ctx context.Context, id string, files, chunks int, indexedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// CodebaseService manages registered codebases
type CodebaseService struct {
	repo    CodebaseRepositoryInterface
	index   VectorIndex
	cache   *ContextCache
	uuidGen UUIDGenerator
}

// NewCodebaseService creates a CodebaseService. cache may be nil.
func NewCodebaseService(repo CodebaseRepositoryInterface, index VectorIndex, cache *ContextCache) *CodebaseService {
	return NewCodebaseServiceWithUUIDGen(repo, index, cache, &DefaultUUIDGenerator{})
}

// NewCodebaseServiceWithUUIDGen creates a CodebaseService with a custom UUID generator (for testing)
func NewCodebaseServiceWithUUIDGen(repo CodebaseRepositoryInterface, index VectorIndex, cache *ContextCache, uuidGen UUIDGenerator) *CodebaseService {
	return &CodebaseService{repo: repo, index: index, cache: cache, uuidGen: uuidGen}
}

// Create registers a new, empty codebase. Names are unique.
func (s *CodebaseService) Create(ctx context.Context, name string) (*domain.Codebase, error) {
	ctx, span := telemetry.StartSpan(ctx, "CodebaseService.Create", telemetry.SpanAttributes{
		Operation: "create",
	})
	defer span.End()

	c := &domain.Codebase{
		ID:        s.uuidGen.NewString(),
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	if err := domain.ValidateCodebase(c); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid codebase", err)
	}
	if err := s.repo.Create(ctx, c); err != nil {
		span.SetError(err)
		return nil, err
	}
	return c, nil
}

// GetByID returns the codebase with the given id
func (s *CodebaseService) GetByID(ctx context.Context, id string) (*domain.Codebase, error) {
	ctx, span := telemetry.StartSpan(ctx, "CodebaseService.GetByID", telemetry.SpanAttributes{
		ScopeID:   id,
		Operation: "get",
	})
	defer span.End()

	return s.repo.GetByID(ctx, id)
}

// GetByName returns the codebase with the given name
func (s *CodebaseService) GetByName(ctx context.Context, name string) (*domain.Codebase, error) {
	return s.repo.GetByName(ctx, name)
}

// List pages codebases newest first.
func (s *CodebaseService) List(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*domain.Codebase], error) {
	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return s.repo.ListWithCursor(ctx, decoded, pagination.ClampLimit(limit))
}

// Delete removes the codebase together with its vectors and cached files.
func (s *CodebaseService) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "CodebaseService.Delete", telemetry.SpanAttributes{
		ScopeID:   id,
		Operation: "delete",
	})
	defer span.End()

	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, id); err != nil {
		span.SetError(err)
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
	return s.repo.Delete(ctx, id)
}
