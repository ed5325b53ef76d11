package domain

import "strings"

// MaxContentPreview caps the chunk content stored alongside a vector.
const MaxContentPreview = 2000

// MatchTier records which stage of the relevance cascade produced a result
type MatchTier string

const (
	MatchTierNone          MatchTier = "none"
	MatchTierPrimary       MatchTier = "primary"
	MatchTierFallback      MatchTier = "fallback"
	MatchTierKeyword       MatchTier = "keyword"
	MatchTierUnconditional MatchTier = "unconditional"
)

// IndexMetadata is the record stored next to each vector. It carries enough
// to rebuild an approximate chunk without reading the source file.
type IndexMetadata struct {
	ScopeID      string   `json:"scope_id,omitempty"`
	Content      string   `json:"content"`
	Kind         string   `json:"kind"`
	Name         string   `json:"name,omitempty"`
	FilePath     string   `json:"file_path"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	Language     string   `json:"language"`
	Complexity   int      `json:"complexity"`
	Dependencies []string `json:"dependencies,omitempty"`
	Exports      []string `json:"exports,omitempty"`
	Imports      []string `json:"imports,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	ParentChunk  string   `json:"parent_chunk,omitempty"`
}

// SearchResult is one nearest-neighbour hit returned by a vector index
type SearchResult struct {
	ChunkID  string        `json:"chunk_id"`
	Score    float64       `json:"score"`
	Metadata IndexMetadata `json:"metadata"`
}

// EnhancedSearchResult is a search hit re-ranked against the query
type EnhancedSearchResult struct {
	SearchResult
	Chunk               CodeChunk      `json:"chunk"`
	ContextualRelevance float64        `json:"contextual_relevance"`
	Snippet             string         `json:"snippet"`
	Related             []SearchResult `json:"related,omitempty"`
	Tier                MatchTier      `json:"tier"`
	LowConfidence       bool           `json:"low_confidence,omitempty"`
}

// VectorQuery selects nearest neighbours inside one scope. Either Embedding
// or Text must be set.
type VectorQuery struct {
	Embedding []float32
	Text      string
	ScopeID   string
	Languages []string
	TopK      int
}

// IndexHealth reports the state of a vector index
type IndexHealth struct {
	Connected   bool   `json:"connected"`
	IndexReady  bool   `json:"index_ready"`
	VectorCount *int64 `json:"vector_count,omitempty"`
	Backend     string `json:"backend"`
}

// MetadataFromChunk builds the index record for a chunk.
func MetadataFromChunk(scopeID string, c CodeChunk) IndexMetadata {
	content := c.Content
	if r := []rune(content); len(r) > MaxContentPreview {
		content = string(r[:MaxContentPreview])
	}
	return IndexMetadata{
		ScopeID:      scopeID,
		Content:      content,
		Kind:         string(c.Kind),
		Name:         c.Name,
		FilePath:     c.FilePath,
		StartLine:    c.StartLine,
		EndLine:      c.EndLine,
		Language:     c.Metadata.Language,
		Complexity:   c.Metadata.Complexity,
		Dependencies: c.Metadata.Dependencies,
		Exports:      c.Metadata.Exports,
		Imports:      c.Metadata.Imports,
		Keywords:     c.Metadata.Keywords,
		ParentChunk:  c.ParentChunk,
	}
}

// ChunkFromMetadata rebuilds a chunk from an index record. It never fails;
// missing fields take these defaults:
//
//   - Kind: block when empty or unknown
//   - Language: "unknown"
//   - StartLine: 1 when < 1
//   - EndLine: StartLine + content lines - 1 when < StartLine
//   - Complexity: clamped to 1..10
//   - ID: derived with ChunkID when chunkID is empty
func ChunkFromMetadata(chunkID string, m IndexMetadata) CodeChunk {
	kind := ChunkKind(m.Kind)
	if !IsValidChunkKind(kind) {
		kind = ChunkKindBlock
	}

	language := m.Language
	if language == "" {
		language = "unknown"
	}

	start := m.StartLine
	if start < 1 {
		start = 1
	}
	end := m.EndLine
	if end < start {
		end = start + strings.Count(m.Content, "\n")
	}

	complexity := m.Complexity
	if complexity < 1 {
		complexity = 1
	}
	if complexity > 10 {
		complexity = 10
	}

	if chunkID == "" {
		chunkID = ChunkID(m.FilePath, start, end, m.Content)
	}

	return CodeChunk{
		ID:        chunkID,
		Content:   m.Content,
		Kind:      kind,
		Name:      m.Name,
		FilePath:  m.FilePath,
		StartLine: start,
		EndLine:   end,
		Metadata: ChunkMetadata{
			Language:     language,
			Complexity:   complexity,
			Dependencies: copyStrings(m.Dependencies),
			Exports:      copyStrings(m.Exports),
			Imports:      copyStrings(m.Imports),
			Keywords:     copyStrings(m.Keywords),
		},
		ParentChunk: m.ParentChunk,
	}
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
