package service

import (
	"context"
	"fmt"
	"log"
	"path"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

// VectorIndex stores chunk vectors per scope and answers nearest-neighbour
// queries.
type VectorIndex interface {
	Upsert(ctx context.Context, scopeID string, chunks []domain.CodeChunk, embeddings []domain.EmbeddingResult) error
	Query(ctx context.Context, q domain.VectorQuery) ([]domain.SearchResult, error)
	Delete(ctx context.Context, scopeID string) error
	Health(ctx context.Context) (*domain.IndexHealth, error)
}

// QueryEmbedder turns a query into a vector
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CodebaseRegistry resolves scope ids to codebases
type CodebaseRegistry interface {
	GetByID(ctx context.Context, id string) (*domain.Codebase, error)
}

const (
	defaultCandidateMultiplier = 4
	defaultMinCandidates       = 20
	defaultMaxCandidates       = 200

	defaultMaxResults         = 10
	defaultRelevanceThreshold = 0.3
	defaultFallbackThreshold  = 0.1
	defaultContextWindow      = 3
	defaultUnconditional      = 3
	defaultMaxRelated         = 3
	snippetMaxChars           = 300

	typeAlignmentBonus   = 0.1
	keywordOverlapBonus  = 0.02
	complexityBonus      = 0.01
	shortContentPenalty  = 0.05
	shortContentMaxChars = 100

	keywordNameWeight    = 3
	keywordFileWeight    = 2
	keywordContentWeight = 1
)

// SearchContext scopes and tunes a search
type SearchContext struct {
	ScopeID            string
	Languages          []string
	FileTypes          []string
	MaxResults         int
	RelevanceThreshold float64
	ExpandRelated      bool
	ContextWindow      int
	// TextOnly skips the embedding provider and asks the index for a
	// full-text match instead. Services built without an embedder always
	// search this way.
	TextOnly bool
}

// SearchOutput is the ranked result of a search
type SearchOutput struct {
	Results        []domain.EnhancedSearchResult `json:"results"`
	TotalRelevance float64                       `json:"total_relevance"`
	Elapsed        time.Duration                 `json:"elapsed"`
	Summary        string                        `json:"summary"`
	Tier           domain.MatchTier              `json:"tier"`
	Candidates     int                           `json:"candidates"`
	LowConfidence  bool                          `json:"low_confidence"`
	Errors         []string                      `json:"errors,omitempty"`
}

// RetrievalConfig controls candidate fetching and the fallback cascade.
type RetrievalConfig struct {
	CandidateMultiplier  int
	MinCandidates        int
	MaxCandidates        int
	FallbackThreshold    float64
	UnconditionalResults int
}

// DefaultRetrievalConfig returns the default retrieval configuration.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		CandidateMultiplier:  defaultCandidateMultiplier,
		MinCandidates:        defaultMinCandidates,
		MaxCandidates:        defaultMaxCandidates,
		FallbackThreshold:    defaultFallbackThreshold,
		UnconditionalResults: defaultUnconditional,
	}
}

// RetrievalService finds the chunks most relevant to a natural-language query
type RetrievalService struct {
	embedder QueryEmbedder
	index    VectorIndex
	registry CodebaseRegistry
	cfg      RetrievalConfig
}

// NewRetrievalService creates a RetrievalService. registry may be nil, in
// which case scopes are not checked.
func NewRetrievalService(embedder QueryEmbedder, index VectorIndex, registry CodebaseRegistry) *RetrievalService {
	return NewRetrievalServiceWithConfig(embedder, index, registry, DefaultRetrievalConfig())
}

// NewRetrievalServiceWithConfig creates a RetrievalService with explicit configuration.
func NewRetrievalServiceWithConfig(embedder QueryEmbedder, index VectorIndex, registry CodebaseRegistry, cfg RetrievalConfig) *RetrievalService {
	def := DefaultRetrievalConfig()
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = def.CandidateMultiplier
	}
	if cfg.MinCandidates <= 0 {
		cfg.MinCandidates = def.MinCandidates
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = def.FallbackThreshold
	}
	if cfg.UnconditionalResults <= 0 {
		cfg.UnconditionalResults = def.UnconditionalResults
	}
	return &RetrievalService{
		embedder: embedder,
		index:    index,
		registry: registry,
		cfg:      cfg,
	}
}

// Search runs the relevance cascade: the caller's threshold, then the
// fallback threshold, then keyword matching, then the top candidates
// unconditionally. Provider and index errors are returned; a result that
// fails enhancement is dropped and reported in Errors.
func (s *RetrievalService) Search(ctx context.Context, query string, sc SearchContext) (*SearchOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Search", telemetry.SpanAttributes{
		ScopeID:   sc.ScopeID,
		Operation: "search",
	})
	defer span.End()

	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if strings.TrimSpace(sc.ScopeID) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "scope id is required")
	}
	sc = withSearchDefaults(sc)

	if s.registry != nil {
		if _, err := s.registry.GetByID(ctx, sc.ScopeID); err != nil {
			span.SetError(err)
			return nil, err
		}
	}

	topK := sc.MaxResults * s.cfg.CandidateMultiplier
	if topK < s.cfg.MinCandidates {
		topK = s.cfg.MinCandidates
	}
	if topK > s.cfg.MaxCandidates {
		topK = s.cfg.MaxCandidates
	}

	vq := domain.VectorQuery{
		ScopeID:   sc.ScopeID,
		Languages: sc.Languages,
		TopK:      topK,
	}
	if sc.TextOnly || s.embedder == nil {
		vq.Text = query
	} else {
		embedding, err := s.embedder.EmbedQuery(ctx, query)
		if err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("embed query: %w", err)
		}
		vq.Embedding = embedding
	}

	candidates, err := s.index.Query(ctx, vq)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	candidates = filterFileTypes(candidates, sc.FileTypes)

	tokens := queryTokens(query)
	selected, tier := s.cascade(tokens, candidates, sc)
	lowConfidence := tier == domain.MatchTierUnconditional

	out := &SearchOutput{
		Tier:          tier,
		Candidates:    len(candidates),
		LowConfidence: lowConfidence,
	}
	for _, r := range selected {
		enhanced, err := enhanceResult(r, tokens, sc.ContextWindow)
		if err != nil {
			msg := fmt.Sprintf("chunk %s (%s): %v", r.ChunkID, r.Metadata.FilePath, err)
			log.Printf("retrieval: dropping result %s", msg)
			out.Errors = append(out.Errors, msg)
			continue
		}
		enhanced.Tier = tier
		enhanced.LowConfidence = lowConfidence
		if sc.ExpandRelated {
			enhanced.Related = relatedResults(r, candidates, defaultMaxRelated)
		}
		out.Results = append(out.Results, enhanced)
	}

	sortEnhanced(out.Results)
	if len(out.Results) > sc.MaxResults {
		out.Results = out.Results[:sc.MaxResults]
	}
	for _, r := range out.Results {
		out.TotalRelevance += r.ContextualRelevance
	}
	out.Summary = searchSummary(out)
	out.Elapsed = time.Since(start)

	span.SetData("tier", string(tier))
	span.SetData("results", len(out.Results))
	return out, nil
}

func withSearchDefaults(sc SearchContext) SearchContext {
	if sc.MaxResults <= 0 {
		sc.MaxResults = defaultMaxResults
	}
	if sc.RelevanceThreshold <= 0 {
		sc.RelevanceThreshold = defaultRelevanceThreshold
	}
	if sc.ContextWindow <= 0 {
		sc.ContextWindow = defaultContextWindow
	}
	return sc
}

// cascade picks the candidates to return and the tier that produced them.
// Later tiers only run when every earlier tier came back empty.
func (s *RetrievalService) cascade(tokens []string, candidates []domain.SearchResult, sc SearchContext) ([]domain.SearchResult, domain.MatchTier) {
	if len(candidates) == 0 {
		return nil, domain.MatchTierNone
	}
	if hits := aboveThreshold(candidates, sc.RelevanceThreshold); len(hits) > 0 {
		return hits, domain.MatchTierPrimary
	}
	if s.cfg.FallbackThreshold < sc.RelevanceThreshold {
		if hits := aboveThreshold(candidates, s.cfg.FallbackThreshold); len(hits) > 0 {
			return hits, domain.MatchTierFallback
		}
	}
	if hits := keywordMatches(tokens, candidates); len(hits) > 0 {
		return hits, domain.MatchTierKeyword
	}

	top := make([]domain.SearchResult, len(candidates))
	copy(top, candidates)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Score > top[j].Score })
	if len(top) > s.cfg.UnconditionalResults {
		top = top[:s.cfg.UnconditionalResults]
	}
	return top, domain.MatchTierUnconditional
}

func aboveThreshold(candidates []domain.SearchResult, threshold float64) []domain.SearchResult {
	var out []domain.SearchResult
	for _, c := range candidates {
		if c.Score >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// keywordMatches scores candidates by where the query tokens occur: in the
// symbol name, the file name or the content preview.
func keywordMatches(tokens []string, candidates []domain.SearchResult) []domain.SearchResult {
	if len(tokens) == 0 {
		return nil
	}
	type scored struct {
		result domain.SearchResult
		score  int
	}
	var hits []scored
	for _, c := range candidates {
		name := strings.ToLower(c.Metadata.Name)
		file := strings.ToLower(path.Base(c.Metadata.FilePath))
		content := strings.ToLower(c.Metadata.Content)
		score := 0
		for _, tok := range tokens {
			if name != "" && strings.Contains(name, tok) {
				score += keywordNameWeight
			}
			if strings.Contains(file, tok) {
				score += keywordFileWeight
			}
			if strings.Contains(content, tok) {
				score += keywordContentWeight
			}
		}
		if score > 0 {
			hits = append(hits, scored{result: c, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].result.Score > hits[j].result.Score
	})
	out := make([]domain.SearchResult, len(hits))
	for i, h := range hits {
		out[i] = h.result
	}
	return out
}

var queryTokenRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

// queryTokens lowercases the query and keeps tokens longer than two
// characters, in order of first appearance.
func queryTokens(query string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, tok := range queryTokenRe.FindAllString(strings.ToLower(query), -1) {
		if len(tok) <= 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	return tokens
}

var kindQueryWords = map[domain.ChunkKind][]string{
	domain.ChunkKindFunction:  {"function", "func", "def", "handler"},
	domain.ChunkKindMethod:    {"method", "function"},
	domain.ChunkKindClass:     {"class", "component", "model"},
	domain.ChunkKindInterface: {"interface", "contract"},
	domain.ChunkKindType:      {"type", "enum", "alias"},
	domain.ChunkKindVariable:  {"variable", "constant", "const", "config"},
	domain.ChunkKindImport:    {"import", "dependency", "dependencies"},
	domain.ChunkKindExport:    {"export", "exports"},
}

// enhanceResult rebuilds the chunk behind a hit and scores it against the
// query. Panics are turned into errors so one bad record cannot fail the
// search.
func enhanceResult(r domain.SearchResult, tokens []string, window int) (res domain.EnhancedSearchResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("enhance result: %v", p)
		}
	}()

	chunk := domain.ChunkFromMetadata(r.ChunkID, r.Metadata)
	return domain.EnhancedSearchResult{
		SearchResult:        r,
		Chunk:               chunk,
		ContextualRelevance: contextualRelevance(r.Score, chunk, tokens),
		Snippet:             buildSnippet(chunk.Content, tokens, window),
	}, nil
}

func contextualRelevance(score float64, chunk domain.CodeChunk, tokens []string) float64 {
	relevance := score

	for _, word := range kindQueryWords[chunk.Kind] {
		if slices.Contains(tokens, word) {
			relevance += typeAlignmentBonus
			break
		}
	}

	overlap := 0
	for _, kw := range chunk.Metadata.Keywords {
		if slices.Contains(tokens, strings.ToLower(kw)) {
			overlap++
		}
	}
	relevance += keywordOverlapBonus * float64(overlap)
	relevance += complexityBonus * float64(chunk.Metadata.Complexity)
	if len(chunk.Content) < shortContentMaxChars {
		relevance -= shortContentPenalty
	}

	if relevance < 0 {
		return 0
	}
	if relevance > 1 {
		return 1
	}
	return relevance
}

// buildSnippet returns the window of lines around the line with the most
// query-token hits.
func buildSnippet(content string, tokens []string, window int) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	best, bestHits := 0, 0
	for i, line := range lines {
		lower := strings.ToLower(line)
		hits := 0
		for _, tok := range tokens {
			hits += strings.Count(lower, tok)
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}

	from := max(best-window, 0)
	to := min(best+window+1, len(lines))
	snippet := strings.TrimRight(strings.Join(lines[from:to], "\n"), "\n ")
	if r := []rune(snippet); len(r) > snippetMaxChars {
		snippet = string(r[:snippetMaxChars])
	}
	return snippet
}

func relatedResults(r domain.SearchResult, candidates []domain.SearchResult, limit int) []domain.SearchResult {
	var related []domain.SearchResult
	for _, c := range candidates {
		if c.ChunkID == r.ChunkID || c.Metadata.FilePath != r.Metadata.FilePath {
			continue
		}
		related = append(related, c)
		if len(related) == limit {
			break
		}
	}
	return related
}

func filterFileTypes(candidates []domain.SearchResult, fileTypes []string) []domain.SearchResult {
	if len(fileTypes) == 0 {
		return candidates
	}
	allowed := make(map[string]bool, len(fileTypes))
	for _, ft := range fileTypes {
		ft = strings.ToLower(strings.TrimSpace(ft))
		if ft == "" {
			continue
		}
		if !strings.HasPrefix(ft, ".") {
			ft = "." + ft
		}
		allowed[ft] = true
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if allowed[strings.ToLower(path.Ext(c.Metadata.FilePath))] {
			out = append(out, c)
		}
	}
	return out
}

func sortEnhanced(results []domain.EnhancedSearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.ContextualRelevance != b.ContextualRelevance {
			return a.ContextualRelevance > b.ContextualRelevance
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ChunkID < b.ChunkID
	})
}

func searchSummary(out *SearchOutput) string {
	if len(out.Results) == 0 {
		return "no relevant code found"
	}
	files := make(map[string]bool)
	for _, r := range out.Results {
		files[r.Metadata.FilePath] = true
	}
	summary := fmt.Sprintf("found %d results in %d files (%s match)", len(out.Results), len(files), out.Tier)
	if out.LowConfidence {
		summary += ", low confidence"
	}
	return summary
}
