package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/pagination"
	"github.com/cloo-solutions/codelens/internal/service"
)

type MockCodebaseService struct {
	mock.Mock
}

func (m *MockCodebaseService) Create(ctx context.Context, name string) (*domain.Codebase, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Codebase), args.Error(1)
}

func (m *MockCodebaseService) GetByID(ctx context.Context, id string) (*domain.Codebase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Codebase), args.Error(1)
}

func (m *MockCodebaseService) List(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*domain.Codebase], error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.PageResult[*domain.Codebase]), args.Error(1)
}

func (m *MockCodebaseService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockFileService struct {
	mock.Mock
}

func (m *MockFileService) SaveFiles(ctx context.Context, scopeID string, files []*domain.CodebaseFile) ([]*domain.CodebaseFile, error) {
	args := m.Called(ctx, scopeID, files)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CodebaseFile), args.Error(1)
}

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) Enqueue(ctx context.Context, codebaseID string) (*domain.IndexJob, error) {
	args := m.Called(ctx, codebaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IndexJob), args.Error(1)
}

func (m *MockJobService) GetByID(ctx context.Context, id string) (*domain.IndexJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IndexJob), args.Error(1)
}

type MockIndexRemover struct {
	mock.Mock
}

func (m *MockIndexRemover) DeleteIndex(ctx context.Context, scopeID string) error {
	args := m.Called(ctx, scopeID)
	return args.Error(0)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, query string, sc service.SearchContext) (*service.SearchOutput, error) {
	args := m.Called(ctx, query, sc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SearchOutput), args.Error(1)
}

type MockAssembler struct {
	mock.Mock
}

func (m *MockAssembler) Assemble(ctx context.Context, results []domain.EnhancedSearchResult, scopeID string, opts service.AssembleOptions) (*domain.AssembledContext, error) {
	args := m.Called(ctx, results, scopeID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AssembledContext), args.Error(1)
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) Health(ctx context.Context) (*domain.IndexHealth, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IndexHealth), args.Error(1)
}

func newRequest(method, url, body string) *http.Request {
	return httptest.NewRequest(method, url, bytes.NewReader([]byte(body)))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has a data object")
	return data
}
