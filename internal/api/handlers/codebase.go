package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/codelens/internal/api"
	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/pagination"
)

const (
	defaultListLimit = pagination.DefaultLimit
	maxUploadFiles   = 5000
)

type CodebaseService interface {
	Create(ctx context.Context, name string) (*domain.Codebase, error)
	GetByID(ctx context.Context, id string) (*domain.Codebase, error)
	List(ctx context.Context, cursor string, limit int) (*pagination.PageResult[*domain.Codebase], error)
	Delete(ctx context.Context, id string) error
}

// FileService stores file snapshots of a codebase
type FileService interface {
	SaveFiles(ctx context.Context, scopeID string, files []*domain.CodebaseFile) ([]*domain.CodebaseFile, error)
}

type CodebaseHandler struct {
	svc   CodebaseService
	files FileService
}

func NewCodebaseHandler(svc CodebaseService, files FileService) *CodebaseHandler {
	return &CodebaseHandler{svc: svc, files: files}
}

type CreateCodebaseRequest struct {
	Name string `json:"name"`
}

type FileUpload struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

type UploadFilesRequest struct {
	Files []FileUpload `json:"files"`
}

type UploadFilesResponse struct {
	CodebaseID string       `json:"codebase_id"`
	Files      []FileRecord `json:"files"`
}

type FileRecord struct {
	Path        string `json:"path"`
	Language    string `json:"language"`
	Lines       int    `json:"lines"`
	ContentHash string `json:"content_hash"`
}

func (h *CodebaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCodebaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	codebase, err := h.svc.Create(r.Context(), req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, codebase)
}

func (h *CodebaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	codebase, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, codebase)
}

func (h *CodebaseHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	page, err := h.svc.List(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if page.Items == nil {
		page.Items = []*domain.Codebase{}
	}

	api.Success(w, http.StatusOK, page)
}

func (h *CodebaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadFiles stores file snapshots. Indexing is triggered separately.
func (h *CodebaseHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	var req UploadFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Files) == 0 {
		api.Error(w, http.StatusBadRequest, "files are required")
		return
	}
	if len(req.Files) > maxUploadFiles {
		api.Error(w, http.StatusBadRequest, "too many files in one request")
		return
	}

	codebaseID := chi.URLParam(r, "id")
	files := make([]*domain.CodebaseFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = &domain.CodebaseFile{Path: f.Path, Content: f.Content, Language: f.Language}
	}

	saved, err := h.files.SaveFiles(r.Context(), codebaseID, files)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := UploadFilesResponse{CodebaseID: codebaseID, Files: make([]FileRecord, len(saved))}
	for i, f := range saved {
		resp.Files[i] = FileRecord{Path: f.Path, Language: f.Language, Lines: f.Lines, ContentHash: f.ContentHash}
	}

	api.Success(w, http.StatusOK, resp)
}
