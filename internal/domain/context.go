package domain

import "time"

// FileContextSource tells where a FileContext's content came from
type FileContextSource string

const (
	FileContextSourceStore  FileContextSource = "store"
	FileContextSourceClient FileContextSource = "client"
	FileContextSourceChunks FileContextSource = "chunks"
)

// RelevantSection is one matched chunk expanded with surrounding lines
type RelevantSection struct {
	Type      ChunkKind `json:"type"`
	Name      string    `json:"name,omitempty"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
	Content   string    `json:"content"`
	Context   string    `json:"context,omitempty"`
	Relevance float64   `json:"relevance"`
	ChunkID   string    `json:"chunk_id"`
}

// FileContext is one file's contribution to an assembled context
type FileContext struct {
	Path      string            `json:"path"`
	Name      string            `json:"name"`
	Language  string            `json:"language"`
	Content   string            `json:"content,omitempty"`
	Sections  []RelevantSection `json:"relevant_sections"`
	Imports   []string          `json:"imports,omitempty"`
	Exports   []string          `json:"exports,omitempty"`
	LineCount int               `json:"line_count"`
	Relevance float64           `json:"relevance"`
	Source    FileContextSource `json:"source"`
}

// CodeSnippet is a displayable excerpt with a few lines of context
type CodeSnippet struct {
	ID        string  `json:"id"`
	ChunkID   string  `json:"chunk_id"`
	Title     string  `json:"title"`
	FilePath  string  `json:"file_path"`
	Language  string  `json:"language"`
	Content   string  `json:"content"`
	Before    string  `json:"before,omitempty"`
	After     string  `json:"after,omitempty"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Relevance float64 `json:"relevance"`
}

// ContextSummary describes an assembled context in a few fields
type ContextSummary struct {
	FilesAnalyzed     int      `json:"files_analyzed"`
	SectionsFound     int      `json:"sections_found"`
	PrimaryLanguages  []string `json:"primary_languages"`
	KeyPatterns       []string `json:"key_patterns"`
	SuggestedApproach string   `json:"suggested_approach"`
	RelatedConcepts   []string `json:"related_concepts"`
}

// AssembledContext is the bounded context produced for one query
type AssembledContext struct {
	ContextID     string         `json:"context_id"`
	Query         string         `json:"query"`
	ScopeID       string         `json:"scope_id"`
	RelevantFiles []FileContext  `json:"relevant_files"`
	CodeSnippets  []CodeSnippet  `json:"code_snippets"`
	Summary       ContextSummary `json:"summary"`
	TotalLines    int            `json:"total_lines"`
	Confidence    float64        `json:"confidence"`
	LowConfidence bool           `json:"low_confidence,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
