package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/codelens/internal/api"
	"github.com/cloo-solutions/codelens/internal/domain"
)

type HealthChecker interface {
	Health(ctx context.Context) (*domain.IndexHealth, error)
}

type HealthHandler struct {
	index HealthChecker
}

func NewHealthHandler(index HealthChecker) *HealthHandler {
	return &HealthHandler{index: index}
}

type HealthResponse struct {
	Status string              `json:"status"`
	Index  *domain.IndexHealth `json:"index,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Health reports 200 when the vector index is reachable and 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.index.Health(r.Context())
	if err != nil {
		api.Success(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Error: err.Error()})
		return
	}

	if !health.Connected {
		api.Success(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Index: health})
		return
	}

	api.Success(w, http.StatusOK, HealthResponse{Status: "ok", Index: health})
}
