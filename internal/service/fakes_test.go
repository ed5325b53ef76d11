package service

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/embedding"
)

// memoryIndex is a brute-force cosine index keyed by scope and chunk id.
type memoryIndex struct {
	mu       sync.Mutex
	points   map[string]map[string]memoryPoint
	queries  []domain.VectorQuery
	queryErr error
}

type memoryPoint struct {
	vector []float32
	meta   domain.IndexMetadata
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{points: make(map[string]map[string]memoryPoint)}
}

func (m *memoryIndex) Upsert(_ context.Context, scopeID string, chunks []domain.CodeChunk, embeddings []domain.EmbeddingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vectors := make(map[string][]float32, len(embeddings))
	for _, e := range embeddings {
		vectors[e.ChunkID] = e.Vector
	}
	scope := m.points[scopeID]
	if scope == nil {
		scope = make(map[string]memoryPoint)
		m.points[scopeID] = scope
	}
	for _, c := range chunks {
		if v, ok := vectors[c.ID]; ok {
			scope[c.ID] = memoryPoint{vector: v, meta: domain.MetadataFromChunk(scopeID, c)}
		}
	}
	return nil
}

func (m *memoryIndex) Query(_ context.Context, q domain.VectorQuery) ([]domain.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, q)
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []domain.SearchResult
	for id, p := range m.points[q.ScopeID] {
		if len(q.Languages) > 0 && !containsString(q.Languages, p.meta.Language) {
			continue
		}
		out = append(out, domain.SearchResult{ChunkID: id, Score: cosine(q.Embedding, p.vector), Metadata: p.meta})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if q.TopK > 0 && len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func (m *memoryIndex) Delete(_ context.Context, scopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, scopeID)
	return nil
}

func (m *memoryIndex) Health(context.Context) (*domain.IndexHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, scope := range m.points {
		n += int64(len(scope))
	}
	return &domain.IndexHealth{Connected: true, IndexReady: true, VectorCount: &n, Backend: "memory"}, nil
}

func (m *memoryIndex) count(scopeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points[scopeID])
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

const bowDimensions = 512

var bowTokenRe = regexp.MustCompile(`[a-z0-9]+`)

// bowProvider embeds text as a bag of words over a vocabulary that grows as
// new words are seen, so distinct words never share a dimension.
type bowProvider struct {
	mu    sync.Mutex
	vocab map[string]int
}

func newBOWProvider() *bowProvider {
	return &bowProvider{vocab: make(map[string]int)}
}

func (p *bowProvider) Embed(_ context.Context, inputs []string) ([][]float32, domain.TokenUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]float32, len(inputs))
	tokens := 0
	for i, text := range inputs {
		v := make([]float32, bowDimensions)
		for _, w := range bowTokenRe.FindAllString(strings.ToLower(text), -1) {
			idx, ok := p.vocab[w]
			if !ok {
				idx = len(p.vocab) % bowDimensions
				p.vocab[w] = idx
			}
			v[idx]++
			tokens++
		}
		out[i] = v
	}
	return out, domain.TokenUsage{PromptTokens: tokens, TotalTokens: tokens}, nil
}

func (p *bowProvider) Model() string   { return "bag-of-words" }
func (p *bowProvider) Dimensions() int { return bowDimensions }

func newTestBatcher(provider embedding.Provider) *embedding.Batcher {
	return embedding.NewBatcher(provider, embedding.Config{
		RequestsPerMinute: 1000,
		TokensPerMinute:   1000000,
		MaxTokensPerBatch: 8000,
	})
}

// fixedEmbedder returns the same vector for every query
type fixedEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

// stubIndex answers every query with a fixed candidate list
type stubIndex struct {
	memoryIndex
	candidates []domain.SearchResult
}

func (s *stubIndex) Query(_ context.Context, q domain.VectorQuery) ([]domain.SearchResult, error) {
	s.queries = append(s.queries, q)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	out := make([]domain.SearchResult, len(s.candidates))
	copy(out, s.candidates)
	return out, nil
}

// MockCodebases is a mock implementation of IndexedCodebases
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

func (m *MockCodebases) UpdateIndexStats(ctx context.Context, id string, files, chunks int, indexedAt time.Time) error {
	args := m.Called(ctx, id, files, chunks, indexedAt)
	return args.Error(0)
}

// memoryFileStore keeps file snapshots per scope
type memoryFileStore struct {
	mu       sync.Mutex
	files    map[string]map[string]*domain.CodebaseFile
	err      error
	getCalls int
	allCalls int
}

func newMemoryFileStore() *memoryFileStore {
	return &memoryFileStore{files: make(map[string]map[string]*domain.CodebaseFile)}
}

func (s *memoryFileStore) SaveFiles(_ context.Context, scopeID string, files []*domain.CodebaseFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	scope := s.files[scopeID]
	if scope == nil {
		scope = make(map[string]*domain.CodebaseFile)
		s.files[scopeID] = scope
	}
	for _, f := range files {
		scope[f.Path] = f
	}
	return nil
}

func (s *memoryFileStore) GetFile(_ context.Context, scopeID, filePath string) (*domain.CodebaseFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.files[scopeID][filePath], nil
}

func (s *memoryFileStore) GetAllFiles(_ context.Context, scopeID string) ([]*domain.CodebaseFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allCalls++
	if s.err != nil {
		return nil, s.err
	}
	var out []*domain.CodebaseFile
	for _, f := range s.files[scopeID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
