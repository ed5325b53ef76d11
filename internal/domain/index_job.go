package domain

import (
	"fmt"
	"time"
)

// IndexJobStatus represents the status of an index job
type IndexJobStatus string

const (
	IndexJobStatusPending    IndexJobStatus = "pending"
	IndexJobStatusProcessing IndexJobStatus = "processing"
	IndexJobStatusCompleted  IndexJobStatus = "completed"
	IndexJobStatusFailed     IndexJobStatus = "failed"
)

// IndexJob represents an async request to (re)index a codebase
type IndexJob struct {
	ID          string         `json:"id"`
	CodebaseID  string         `json:"codebase_id"`
	Status      IndexJobStatus `json:"status"`
	Retries     int32          `json:"retries"`
	Error       string         `json:"error,omitempty"`
	Report      *IndexReport   `json:"report,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// IndexReport summarizes one indexing run
type IndexReport struct {
	Files       int           `json:"files"`
	Chunks      int           `json:"chunks"`
	Embedded    int           `json:"embedded"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	Errors      []string      `json:"errors,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// NewIndexJob creates a new IndexJob instance
func NewIndexJob(
	id, codebaseID string,
	status IndexJobStatus,
	retries int32,
	errMsg string,
	createdAt time.Time,
	processedAt *time.Time,
) *IndexJob {
	return &IndexJob{
		ID:          id,
		CodebaseID:  codebaseID,
		Status:      status,
		Retries:     retries,
		Error:       errMsg,
		CreatedAt:   createdAt,
		ProcessedAt: processedAt,
	}
}

// ValidateIndexJob validates an IndexJob instance
func ValidateIndexJob(j *IndexJob) error {
	if j == nil {
		return fmt.Errorf("index job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("index job ID is required")
	}

	if j.CodebaseID == "" {
		return fmt.Errorf("index job CodebaseID is required")
	}

	if !IsValidIndexJobStatus(j.Status) {
		return fmt.Errorf("index job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("index job Retries cannot be negative")
	}

	return nil
}

// IsValidIndexJobStatus checks if an IndexJobStatus is valid
func IsValidIndexJobStatus(s IndexJobStatus) bool {
	switch s {
	case IndexJobStatusPending, IndexJobStatusProcessing,
		IndexJobStatusCompleted, IndexJobStatusFailed:
		return true
	}
	return false
}
