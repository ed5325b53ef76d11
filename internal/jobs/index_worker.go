package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/embedding"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

const (
	// MaxRetries is the maximum number of attempts for a job
	MaxRetries = 3

	defaultClaimLimit = 5
)

// IndexJobRepository defines the job persistence the worker needs
type IndexJobRepository interface {
	// ClaimPending moves pending jobs to processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.IndexJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.IndexJobStatus, errMsg string) error
	Complete(ctx context.Context, id string, report *domain.IndexReport) error
	IncrementRetries(ctx context.Context, id string) error
}

// Indexer rebuilds the vectors of a codebase from its stored files
type Indexer interface {
	Reindex(ctx context.Context, scopeID string, progress embedding.ProgressFunc) (*domain.IndexReport, error)
}

// IndexWorker processes queued index jobs
type IndexWorker struct {
	repo       IndexJobRepository
	indexer    Indexer
	claimLimit int
}

// NewIndexWorker creates a new IndexWorker instance
func NewIndexWorker(repo IndexJobRepository, indexer Indexer) *IndexWorker {
	return &IndexWorker{
		repo:       repo,
		indexer:    indexer,
		claimLimit: defaultClaimLimit,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IndexWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, w.claimLimit)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("worker: processing %d index jobs", len(jobs))

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("worker: job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *IndexWorker) processJob(ctx context.Context, job *domain.IndexJob) error {
	ctx, span := telemetry.StartSpan(ctx, "IndexWorker.processJob", telemetry.SpanAttributes{
		ScopeID:   job.CodebaseID,
		JobID:     job.ID,
		Operation: "index",
	})
	defer span.End()

	progress := func(p embedding.Progress) {
		log.Printf("worker: job %s: batch %d/%d, %d/%d embedded, %d failed",
			job.ID, p.Batch, p.Batches, p.Embedded, p.Total, p.Failed)
	}

	report, err := w.indexer.Reindex(ctx, job.CodebaseID, progress)
	if err != nil {
		span.SetError(err)
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.Complete(ctx, job.ID, report); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	log.Printf("worker: job %s completed (%d/%d chunks embedded)", job.ID, report.Embedded, report.Chunks)
	return nil
}

// handleJobFailure retries the job until MaxRetries attempts have failed. A
// job whose codebase no longer exists fails immediately.
func (w *IndexWorker) handleJobFailure(ctx context.Context, job *domain.IndexJob, jobErr error) error {
	log.Printf("worker: job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if errors.Is(jobErr, domain.ErrCodebaseNotFound) || job.Retries+1 >= MaxRetries {
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if errors.Is(jobErr, domain.ErrCodebaseNotFound) {
			errMsg = jobErr.Error()
		}
		telemetry.CaptureError(ctx, fmt.Errorf("index job %s: %w", job.ID, jobErr))
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.IndexJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		return nil
	}

	log.Printf("worker: job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	telemetry.AddBreadcrumb(ctx, "jobs", fmt.Sprintf("retrying index job %s", job.ID))
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.IndexJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job to pending: %w", err)
	}

	return nil
}
