package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/codelens/internal/api"
	"github.com/cloo-solutions/codelens/internal/domain"
)

type JobService interface {
	Enqueue(ctx context.Context, codebaseID string) (*domain.IndexJob, error)
	GetByID(ctx context.Context, id string) (*domain.IndexJob, error)
}

// IndexRemover drops the vectors of a codebase
type IndexRemover interface {
	DeleteIndex(ctx context.Context, scopeID string) error
}

type IndexHandler struct {
	jobs    JobService
	remover IndexRemover
}

func NewIndexHandler(jobs JobService, remover IndexRemover) *IndexHandler {
	return &IndexHandler{jobs: jobs, remover: remover}
}

// Enqueue queues a background index run for the codebase.
func (h *IndexHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Enqueue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, job)
}

func (h *IndexHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.remover.DeleteIndex(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *IndexHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, job)
}
