package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloo-solutions/codelens/internal/api"
	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, query string, sc service.SearchContext) (*service.SearchOutput, error)
}

type Assembler interface {
	Assemble(ctx context.Context, results []domain.EnhancedSearchResult, scopeID string, opts service.AssembleOptions) (*domain.AssembledContext, error)
}

type SearchHandler struct {
	search    SearchService
	assembler Assembler
}

func NewSearchHandler(search SearchService, assembler Assembler) *SearchHandler {
	return &SearchHandler{search: search, assembler: assembler}
}

type SearchRequest struct {
	CodebaseID         string   `json:"codebase_id"`
	Query              string   `json:"query"`
	Languages          []string `json:"languages,omitempty"`
	FileTypes          []string `json:"file_types,omitempty"`
	MaxResults         int      `json:"max_results,omitempty"`
	RelevanceThreshold float64  `json:"relevance_threshold,omitempty"`
	ExpandRelated      bool     `json:"expand_related,omitempty"`
	ContextWindow      int      `json:"context_window,omitempty"`
	TextOnly           bool     `json:"text_only,omitempty"`
}

type ContextRequest struct {
	SearchRequest
	MaxFiles       int               `json:"max_files,omitempty"`
	MaxSnippets    int               `json:"max_snippets,omitempty"`
	ContextLines   int               `json:"context_lines,omitempty"`
	IncludeContent bool              `json:"include_content,omitempty"`
	Files          map[string]string `json:"files,omitempty"`
	Format         string            `json:"format,omitempty"`
	MaxLines       int               `json:"max_lines,omitempty"`
}

const (
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

func (req SearchRequest) validate() string {
	if strings.TrimSpace(req.CodebaseID) == "" {
		return "codebase_id is required"
	}
	if strings.TrimSpace(req.Query) == "" {
		return "query is required"
	}
	if req.MaxResults < 0 || req.ContextWindow < 0 {
		return "limits cannot be negative"
	}
	if req.RelevanceThreshold < 0 || req.RelevanceThreshold > 1 {
		return "relevance_threshold must be between 0 and 1"
	}
	return ""
}

func (req SearchRequest) searchContext() service.SearchContext {
	return service.SearchContext{
		ScopeID:            req.CodebaseID,
		Languages:          req.Languages,
		FileTypes:          req.FileTypes,
		MaxResults:         req.MaxResults,
		RelevanceThreshold: req.RelevanceThreshold,
		ExpandRelated:      req.ExpandRelated,
		ContextWindow:      req.ContextWindow,
		TextOnly:           req.TextOnly,
	}
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if msg := req.validate(); msg != "" {
		api.Error(w, http.StatusBadRequest, msg)
		return
	}

	out, err := h.search.Search(r.Context(), req.Query, req.searchContext())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if out.Results == nil {
		out.Results = []domain.EnhancedSearchResult{}
	}

	api.Success(w, http.StatusOK, out)
}

// Context searches and assembles the results into a bounded context,
// returned as JSON or as a markdown document.
func (h *SearchHandler) Context(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if msg := req.validate(); msg != "" {
		api.Error(w, http.StatusBadRequest, msg)
		return
	}

	format := strings.ToLower(req.Format)
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatMarkdown {
		api.Error(w, http.StatusBadRequest, "format must be json or markdown")
		return
	}
	if req.MaxFiles < 0 || req.MaxSnippets < 0 || req.ContextLines < 0 || req.MaxLines < 0 {
		api.Error(w, http.StatusBadRequest, "limits cannot be negative")
		return
	}

	out, err := h.search.Search(r.Context(), req.Query, req.searchContext())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	ac, err := h.assembler.Assemble(r.Context(), out.Results, req.CodebaseID, service.AssembleOptions{
		Query:          req.Query,
		MaxFiles:       req.MaxFiles,
		MaxSnippets:    req.MaxSnippets,
		ContextLines:   req.ContextLines,
		IncludeContent: req.IncludeContent,
		ClientFiles:    req.Files,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	ac.Errors = append(out.Errors, ac.Errors...)

	if req.MaxLines > 0 {
		ac = service.OptimizeForDisplay(ac, req.MaxLines)
	}

	if format == formatMarkdown {
		api.Markdown(w, http.StatusOK, service.ExportText(ac))
		return
	}

	api.Success(w, http.StatusOK, ac)
}
