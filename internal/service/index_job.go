package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

// IndexJobRepositoryInterface defines the repository interface for index job persistence
type IndexJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.IndexJob) error
	GetByID(ctx context.Context, id string) (*domain.IndexJob, error)
	HasActive(ctx context.Context, codebaseID string) (bool, error)
}

// IndexJobService queues background reindexing of codebases
type IndexJobService struct {
	txRunner TxRunner
	jobs     IndexJobRepositoryInterface
	uuidGen  UUIDGenerator
	onQueued func()
}

// NewIndexJobService creates an IndexJobService
func NewIndexJobService(txRunner TxRunner, jobs IndexJobRepositoryInterface) *IndexJobService {
	return NewIndexJobServiceWithUUIDGen(txRunner, jobs, &DefaultUUIDGenerator{})
}

// NewIndexJobServiceWithUUIDGen creates an IndexJobService with a custom UUID generator (for testing)
func NewIndexJobServiceWithUUIDGen(txRunner TxRunner, jobs IndexJobRepositoryInterface, uuidGen UUIDGenerator) *IndexJobService {
	return &IndexJobService{txRunner: txRunner, jobs: jobs, uuidGen: uuidGen}
}

// OnEnqueue registers fn to run after each job is committed, typically the
// worker's Notify.
func (s *IndexJobService) OnEnqueue(fn func()) {
	s.onQueued = fn
}

// Enqueue queues a reindex of the codebase. At most one job per codebase is
// pending or processing at a time.
func (s *IndexJobService) Enqueue(ctx context.Context, codebaseID string) (*domain.IndexJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "IndexJobService.Enqueue", telemetry.SpanAttributes{
		ScopeID:   codebaseID,
		Operation: "enqueue",
	})
	defer span.End()

	job := domain.NewIndexJob(s.uuidGen.NewString(), codebaseID, domain.IndexJobStatusPending, 0, "", time.Now().UTC(), nil)
	if err := domain.ValidateIndexJob(job); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid index job", err)
	}

	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if _, err := repos.Codebases().GetByID(ctx, codebaseID); err != nil {
			return err
		}
		active, err := repos.IndexJobs().HasActive(ctx, codebaseID)
		if err != nil {
			return err
		}
		if active {
			return domain.ErrIndexInProgress
		}
		return repos.IndexJobs().Create(ctx, job)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	span.SetData("job_id", job.ID)
	if s.onQueued != nil {
		s.onQueued()
	}
	return job, nil
}

// GetByID returns the job with the given id
func (s *IndexJobService) GetByID(ctx context.Context, id string) (*domain.IndexJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "IndexJobService.GetByID", telemetry.SpanAttributes{
		JobID:     id,
		Operation: "get",
	})
	defer span.End()

	return s.jobs.GetByID(ctx, id)
}
