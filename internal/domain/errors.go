package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeUnavailable      = "UNAVAILABLE"
)

// Validation errors
var (
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query cannot be empty")
	ErrInvalidJobStatus     = NewDomainError(ErrCodeValidation, "invalid index job status")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidFilePath      = NewDomainError(ErrCodeValidation, "invalid file path")
)

// Not found errors
var (
	ErrCodebaseNotFound = NewDomainError(ErrCodeNotFound, "codebase not found")
	ErrIndexJobNotFound = NewDomainError(ErrCodeNotFound, "index job not found")
)

// Already exists errors
var (
	ErrCodebaseAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "codebase already exists")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// Operation errors
var (
	ErrIndexInProgress = NewDomainError(ErrCodeInvalidOperation, "codebase is already being indexed")
)

// Collaborator errors
var (
	ErrStoreUnavailable       = NewDomainError(ErrCodeUnavailable, "codebase store unavailable")
	ErrVectorIndexUnavailable = NewDomainError(ErrCodeUnavailable, "vector index unavailable")
)

// ProviderError is returned by the embedding provider adapter. StatusCode is
// zero for network-level failures.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("embedding provider: %s", e.Message)
	}
	return fmt.Sprintf("embedding provider: status %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether the provider rejected the request with 429.
func (e *ProviderError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether the request may succeed if retried: server
// errors and network failures.
func (e *ProviderError) IsTransient() bool {
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}

// AsProviderError unwraps err into a *ProviderError if possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
