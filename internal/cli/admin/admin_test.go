package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/codelens/internal/api/middleware"
	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/embedding"
	"github.com/cloo-solutions/codelens/internal/pagination"
)

type MockCodebases struct {
	mock.Mock
}

func (m *MockCodebases) GetByID(ctx context.Context, id string) (*domain.Codebase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Codebase), args.Error(1)
}

func (m *MockCodebases) GetByName(ctx context.Context, name string) (*domain.Codebase, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Codebase), args.Error(1)
}

func (m *MockCodebases) Create(ctx context.Context, name string) (*domain.Codebase, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Codebase), args.Error(1)
}

const testCodebaseID = "5b0c7f0e-3c1a-4d8e-9a57-2f4a8f0b6c11"

func TestResolveCodebase_ByID(t *testing.T) {
	ctx := context.Background()
	m := new(MockCodebases)
	want := &domain.Codebase{ID: testCodebaseID, Name: "api"}
	m.On("GetByID", ctx, testCodebaseID).Return(want, nil)

	got, err := resolveCodebase(ctx, m, testCodebaseID)

	require.NoError(t, err)
	assert.Same(t, want, got)
	m.AssertNotCalled(t, "GetByName", mock.Anything, mock.Anything)
}

func TestResolveCodebase_ByName(t *testing.T) {
	ctx := context.Background()
	m := new(MockCodebases)
	want := &domain.Codebase{ID: testCodebaseID, Name: "api"}
	m.On("GetByName", ctx, "api").Return(want, nil)

	got, err := resolveCodebase(ctx, m, "api")

	require.NoError(t, err)
	assert.Same(t, want, got)
	m.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestResolveCodebase_UUIDShapedName(t *testing.T) {
	ctx := context.Background()
	m := new(MockCodebases)
	want := &domain.Codebase{ID: "other", Name: testCodebaseID}
	m.On("GetByID", ctx, testCodebaseID).Return(nil, domain.ErrCodebaseNotFound)
	m.On("GetByName", ctx, testCodebaseID).Return(want, nil)

	got, err := resolveCodebase(ctx, m, testCodebaseID)

	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestResolveCodebase_NotFound(t *testing.T) {
	ctx := context.Background()
	m := new(MockCodebases)
	m.On("GetByName", ctx, "missing").Return(nil, domain.ErrCodebaseNotFound)

	_, err := resolveCodebase(ctx, m, "missing")

	require.Error(t, err)
	assert.Equal(t, "codebase not found: missing", err.Error())
}

func TestResolveCodebase_StoreError(t *testing.T) {
	ctx := context.Background()
	m := new(MockCodebases)
	boom := errors.New("connection refused")
	m.On("GetByID", ctx, testCodebaseID).Return(nil, boom)

	_, err := resolveCodebase(ctx, m, testCodebaseID)

	assert.ErrorIs(t, err, boom)
}

func TestGetOrCreateCodebase(t *testing.T) {
	ctx := context.Background()

	t.Run("existing", func(t *testing.T) {
		m := new(MockCodebases)
		existing := &domain.Codebase{ID: testCodebaseID, Name: "api"}
		m.On("GetByName", ctx, "api").Return(existing, nil)

		got, created, err := getOrCreateCodebase(ctx, m, "api")

		require.NoError(t, err)
		assert.False(t, created)
		assert.Same(t, existing, got)
		m.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("new", func(t *testing.T) {
		m := new(MockCodebases)
		fresh := &domain.Codebase{ID: testCodebaseID, Name: "api"}
		m.On("GetByName", ctx, "api").Return(nil, domain.ErrCodebaseNotFound)
		m.On("Create", ctx, "api").Return(fresh, nil)

		got, created, err := getOrCreateCodebase(ctx, m, "api")

		require.NoError(t, err)
		assert.True(t, created)
		assert.Same(t, fresh, got)
	})

	t.Run("concurrent create", func(t *testing.T) {
		m := new(MockCodebases)
		winner := &domain.Codebase{ID: testCodebaseID, Name: "api"}
		m.On("GetByName", ctx, "api").Return(nil, domain.ErrCodebaseNotFound).Once()
		m.On("Create", ctx, "api").Return(nil, domain.ErrCodebaseAlreadyExists)
		m.On("GetByName", ctx, "api").Return(winner, nil).Once()

		got, created, err := getOrCreateCodebase(ctx, m, "api")

		require.NoError(t, err)
		assert.False(t, created)
		assert.Same(t, winner, got)
	})

	t.Run("lookup error", func(t *testing.T) {
		m := new(MockCodebases)
		boom := errors.New("boom")
		m.On("GetByName", ctx, "api").Return(nil, boom)

		_, _, err := getOrCreateCodebase(ctx, m, "api")

		assert.ErrorIs(t, err, boom)
	})
}

func TestPrintCodebasePage(t *testing.T) {
	indexed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	page := &pagination.PageResult[*domain.Codebase]{
		Items: []*domain.Codebase{
			{ID: "id-1", Name: "api", FileCount: 12, ChunkCount: 80, IndexedAt: &indexed},
			{ID: "id-2", Name: "web"},
		},
		Cursor:  "abc",
		HasMore: true,
	}

	var text bytes.Buffer
	require.NoError(t, printCodebasePage(&text, "text", page))
	assert.Contains(t, text.String(), "id-1: api (12 files, 80 chunks, indexed: 2024-06-01 10:00:00)")
	assert.Contains(t, text.String(), "id-2: web (0 files, 0 chunks, indexed: never)")
	assert.Contains(t, text.String(), "--cursor abc")

	var js bytes.Buffer
	require.NoError(t, printCodebasePage(&js, "json", page))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "abc", decoded["cursor"])
	assert.Len(t, decoded["items"], 2)

	var empty bytes.Buffer
	require.NoError(t, printCodebasePage(&empty, "text", &pagination.PageResult[*domain.Codebase]{}))
	assert.Equal(t, "No codebases found\n", empty.String())
}

func TestPrintIndexReport(t *testing.T) {
	var buf bytes.Buffer
	printIndexReport(&buf, &domain.Codebase{ID: "id-1", Name: "api"}, &domain.IndexReport{
		Files:       3,
		Chunks:      10,
		Embedded:    9,
		Failed:      1,
		SuccessRate: 0.9,
		Errors:      []string{"batch 2: rate limited"},
		Elapsed:     1500 * time.Millisecond,
	})

	out := buf.String()
	assert.Contains(t, out, "Indexed api (id-1)")
	assert.Contains(t, out, "embedded: 9 (90%)")
	assert.Contains(t, out, "failed:   1")
	assert.Contains(t, out, "elapsed:  1.5s")
	assert.Contains(t, out, "batch 2: rate limited")
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := progressPrinter(&buf)

	p(embedding.Progress{Batch: 1, Batches: 2, Embedded: 5, Total: 10})
	assert.NotContains(t, buf.String(), "\n")

	p(embedding.Progress{Batch: 2, Batches: 2, Embedded: 9, Failed: 1, Total: 10})
	assert.True(t, strings.HasSuffix(buf.String(), "9/10 chunks (1 failed)\n"))
}

func TestQueryOptionsSearchContext(t *testing.T) {
	opts := queryOptions{
		maxResults: 5,
		threshold:  0.4,
		languages:  []string{"go"},
		fileTypes:  []string{".go"},
		textOnly:   true,
		expand:     true,
	}

	sc := opts.searchContext("scope")

	assert.Equal(t, "scope", sc.ScopeID)
	assert.Equal(t, 5, sc.MaxResults)
	assert.Equal(t, 0.4, sc.RelevanceThreshold)
	assert.Equal(t, []string{"go"}, sc.Languages)
	assert.Equal(t, []string{".go"}, sc.FileTypes)
	assert.True(t, sc.TextOnly)
	assert.True(t, sc.ExpandRelated)
}

func TestWriteContext(t *testing.T) {
	ac := &domain.AssembledContext{
		Query: "auth",
		CodeSnippets: []domain.CodeSnippet{{
			Title:     "function login",
			FilePath:  "auth.go",
			Language:  "go",
			Content:   "func login() {}",
			StartLine: 1,
			EndLine:   1,
			Relevance: 0.8,
		}},
	}

	var md bytes.Buffer
	require.NoError(t, writeContext(&md, "markdown", ac, 0))
	assert.Contains(t, md.String(), "# Code context: auth")
	assert.Contains(t, md.String(), "func login() {}")

	var js bytes.Buffer
	require.NoError(t, writeContext(&js, "json", ac, 0))
	var decoded domain.AssembledContext
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "auth", decoded.Query)
	require.Len(t, decoded.CodeSnippets, 1)
}

func TestAPIKeyGenerateCmd(t *testing.T) {
	cmd := APIKeyGenerateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--output", "json"})

	require.NoError(t, cmd.Execute())

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.True(t, middleware.IsValidAPIKey(decoded["key"]))
	assert.Equal(t, middleware.KeyFingerprint(decoded["key"]), decoded["key_id"])
}

func TestAPIKeyFingerprintCmd(t *testing.T) {
	key, err := middleware.GenerateAPIKey()
	require.NoError(t, err)

	cmd := APIKeyFingerprintCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{key})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, middleware.KeyFingerprint(key)+"\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestMigrateCmd_Subcommands(t *testing.T) {
	cmd := MigrateCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"up", "down", "version"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("dir"))
}
