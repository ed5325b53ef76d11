// Package api holds the JSON envelope shared by the HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/cloo-solutions/codelens/internal/domain"
)

// CodeProviderError marks failures of the upstream embedding provider.
const CodeProviderError = "PROVIDER_ERROR"

type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorResponse carries a message and, for classified errors, the domain
// error code so clients can branch without parsing text.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessResponse{Data: data})
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// Markdown writes text as a rendered context document.
func Markdown(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

var statusByCode = map[string]int{
	domain.ErrCodeValidation:       http.StatusBadRequest,
	domain.ErrCodeNotFound:         http.StatusNotFound,
	domain.ErrCodeAlreadyExists:    http.StatusConflict,
	domain.ErrCodeUnauthorized:     http.StatusUnauthorized,
	domain.ErrCodeInvalidOperation: http.StatusConflict,
	domain.ErrCodeUnavailable:      http.StatusServiceUnavailable,
}

// classify maps err to a response status and error code. Domain errors are
// found through any wrapping; provider rate limits pass through as 429 and
// other provider failures become 502.
func classify(err error) (int, string) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		if status, ok := statusByCode[de.Code]; ok {
			return status, de.Code
		}
		return http.StatusInternalServerError, domain.ErrCodeInternalError
	}
	if pe, ok := domain.AsProviderError(err); ok {
		if pe.IsRateLimit() {
			return http.StatusTooManyRequests, CodeProviderError
		}
		return http.StatusBadGateway, CodeProviderError
	}
	return http.StatusInternalServerError, domain.ErrCodeInternalError
}

func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	status, _ := classify(err)
	return status
}

// HandleError writes err as an ErrorResponse. Unclassified errors are logged
// and replaced with a generic message.
func HandleError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Printf("api: internal error: %v", err)
		JSON(w, status, ErrorResponse{Error: "internal error", Code: code})
		return
	}
	JSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
