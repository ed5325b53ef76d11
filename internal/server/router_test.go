package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/codelens/internal/api/handlers"
	"github.com/cloo-solutions/codelens/internal/api/middleware"
	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/pagination"
	"github.com/cloo-solutions/codelens/internal/service"
)

const testKey = "test-key-0123456789"

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
	return m.Called(ctx, id).Error(0)
}

type stubIndex struct{}

func (stubIndex) Health(context.Context) (*domain.IndexHealth, error) {
	return &domain.IndexHealth{Connected: true, IndexReady: true, Backend: "stub"}, nil
}

func (stubIndex) DeleteIndex(context.Context, string) error { return nil }

type stubJobs struct{}

func (stubJobs) Enqueue(_ context.Context, codebaseID string) (*domain.IndexJob, error) {
	return domain.NewIndexJob("job-1", codebaseID, domain.IndexJobStatusPending, 0, "", time.Now(), nil), nil
}

func (stubJobs) GetByID(context.Context, string) (*domain.IndexJob, error) {
	return nil, domain.ErrIndexJobNotFound
}

type stubSearch struct{}

func (stubSearch) Search(_ context.Context, query string, sc service.SearchContext) (*service.SearchOutput, error) {
	return &service.SearchOutput{Tier: domain.MatchTierNone, Summary: query + " in " + sc.ScopeID}, nil
}

func setupRouter(auth middleware.AuthValidator) (http.Handler, *MockCodebaseService) {
	codebases := new(MockCodebaseService)
	cfg := RouterConfig{
		AuthValidator:   auth,
		HealthHandler:   handlers.NewHealthHandler(stubIndex{}),
		CodebaseHandler: handlers.NewCodebaseHandler(codebases, nil),
		IndexHandler:    handlers.NewIndexHandler(stubJobs{}, stubIndex{}),
		SearchHandler:   handlers.NewSearchHandler(stubSearch{}, nil),
	}
	return NewRouter(cfg), codebases
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _ := setupRouter(middleware.NewStaticKeys([]string{testKey}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}

func TestRouter_AuthenticatedRoutes_RequireAuth(t *testing.T) {
	router, codebases := setupRouter(middleware.NewStaticKeys([]string{testKey}))

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/codebases"},
		{http.MethodPost, "/codebases"},
		{http.MethodGet, "/codebases/123"},
		{http.MethodDelete, "/codebases/123"},
		{http.MethodPut, "/codebases/123/files"},
		{http.MethodPost, "/codebases/123/index"},
		{http.MethodDelete, "/codebases/123/index"},
		{http.MethodGet, "/jobs/123"},
		{http.MethodPost, "/search"},
		{http.MethodPost, "/context"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	codebases.AssertExpectations(t)
}

func TestRouter_AuthenticatedRoutes_WithValidAuth(t *testing.T) {
	router, codebases := setupRouter(middleware.NewStaticKeys([]string{testKey}))
	codebases.On("GetByID", mock.Anything, "cb-1").Return(&domain.Codebase{ID: "cb-1", Name: "shop"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/codebases/cb-1", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	codebases.AssertExpectations(t)
}

func TestRouter_EnqueueAndSearch(t *testing.T) {
	router, _ := setupRouter(middleware.NewStaticKeys([]string{testKey}))

	req := httptest.NewRequest(http.MethodPost, "/codebases/cb-1/index", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"codebase_id":"cb-1"`)

	req = httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"codebase_id":"cb-1","query":"login"}`))
	req.Header.Set("Authorization", "Bearer "+testKey)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "login in cb-1")

	req = httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AuthDisabled(t *testing.T) {
	router, codebases := setupRouter(nil)
	codebases.On("List", mock.Anything, "", 20).Return(&pagination.PageResult[*domain.Codebase]{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/codebases", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	codebases.AssertExpectations(t)
}

func TestRouter_BodyLimit(t *testing.T) {
	codebases := new(MockCodebaseService)
	router := NewRouter(RouterConfig{
		MaxBodyBytes:    16,
		HealthHandler:   handlers.NewHealthHandler(stubIndex{}),
		CodebaseHandler: handlers.NewCodebaseHandler(codebases, nil),
		IndexHandler:    handlers.NewIndexHandler(stubJobs{}, stubIndex{}),
		SearchHandler:   handlers.NewSearchHandler(stubSearch{}, nil),
	})

	req := httptest.NewRequest(http.MethodPost, "/codebases", strings.NewReader(`{"name":"a very long codebase name"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
