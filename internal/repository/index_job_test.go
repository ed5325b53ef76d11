//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/service"
)

func newPendingJob(codebaseID string, createdAt time.Time) *domain.IndexJob {
	return domain.NewIndexJob(uuid.NewString(), codebaseID, domain.IndexJobStatusPending, 0, "", createdAt, nil)
}

func TestIndexJobRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(ctx, t)
	c := createCodebase(ctx, t, NewCodebaseRepository(pool), "jobs")
	repo := NewIndexJobRepository(pool)

	job := newPendingJob(c.ID, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.CodebaseID)
	assert.Equal(t, domain.IndexJobStatusPending, got.Status)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.Report)
	assert.Nil(t, got.ProcessedAt)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrIndexJobNotFound)
}

func TestIndexJobRepository_OneActiveJobPerCodebase(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(ctx, t)
	c := createCodebase(ctx, t, NewCodebaseRepository(pool), "active")
	repo := NewIndexJobRepository(pool)

	active, err := repo.HasActive(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, active)

	first := newPendingJob(c.ID, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, first))

	active, err = repo.HasActive(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, active)

	err = repo.Create(ctx, newPendingJob(c.ID, time.Now().UTC()))
	assert.ErrorIs(t, err, domain.ErrIndexInProgress)

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, domain.IndexJobStatusFailed, "boom"))
	require.NoError(t, repo.Create(ctx, newPendingJob(c.ID, time.Now().UTC())))
}

func TestIndexJobRepository_ClaimPending(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(ctx, t)
	codebases := NewCodebaseRepository(pool)
	repo := NewIndexJobRepository(pool)

	base := time.Now().UTC().Truncate(time.Microsecond)
	var ids []string
	for i, name := range []string{"a", "b", "c"} {
		c := createCodebase(ctx, t, codebases, name)
		job := newPendingJob(c.ID, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.Create(ctx, job))
		ids = append(ids, job.ID)
	}

	claimed, err := repo.ClaimPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, j := range claimed {
		assert.Equal(t, domain.IndexJobStatusProcessing, j.Status)
	}

	rest, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[2], rest[0].ID)

	none, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIndexJobRepository_ClaimPendingConcurrent(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(ctx, t)
	codebases := NewCodebaseRepository(pool)
	repo := NewIndexJobRepository(pool)

	for i := 0; i < 6; i++ {
		c := createCodebase(ctx, t, codebases, uuid.NewString())
		require.NoError(t, repo.Create(ctx, newPendingJob(c.ID, time.Now().UTC())))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := repo.ClaimPending(ctx, 2)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, j := range jobs {
				seen[j.ID]++
			}
		}()
	}
	wg.Wait()

	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestIndexJobRepository_CompleteAndRetries(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(ctx, t)
	c := createCodebase(ctx, t, NewCodebaseRepository(pool), "complete")
	repo := NewIndexJobRepository(pool)

	job := newPendingJob(c.ID, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.IncrementRetries(ctx, job.ID))

	report := &domain.IndexReport{Files: 3, Chunks: 10, Embedded: 9, Failed: 1, SuccessRate: 0.9, Errors: []string{"chunk x"}}
	require.NoError(t, repo.Complete(ctx, job.ID, report))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexJobStatusCompleted, got.Status)
	assert.Equal(t, int32(1), got.Retries)
	assert.NotNil(t, got.ProcessedAt)
	require.NotNil(t, got.Report)
	assert.Equal(t, 9, got.Report.Embedded)
	assert.Equal(t, []string{"chunk x"}, got.Report.Errors)

	assert.ErrorIs(t, repo.IncrementRetries(ctx, uuid.NewString()), domain.ErrIndexJobNotFound)
	assert.ErrorIs(t, repo.Complete(ctx, uuid.NewString(), report), domain.ErrIndexJobNotFound)
}

func TestTxRunner_RollsBack(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(ctx, t)
	runner := NewTxRunner(pool)
	c := createCodebase(ctx, t, NewCodebaseRepository(pool), "tx")
	job := newPendingJob(c.ID, time.Now().UTC())

	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		require.NoError(t, repos.IndexJobs().Create(ctx, job))
		return domain.ErrIndexInProgress
	})
	assert.ErrorIs(t, err, domain.ErrIndexInProgress)

	_, err = NewIndexJobRepository(pool).GetByID(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrIndexJobNotFound)
}

func TestTxRunner_CommitsAndRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	pool := newTestDB(ctx, t)
	runner := NewTxRunner(pool)
	c := createCodebase(ctx, t, NewCodebaseRepository(pool), "tx-commit")
	jobs := NewIndexJobRepository(pool)

	committed := newPendingJob(c.ID, time.Now().UTC())
	require.NoError(t, runner.WithTx(ctx, func(repos service.TxRepositories) error {
		return repos.IndexJobs().Create(ctx, committed)
	}))
	_, err := jobs.GetByID(ctx, committed.ID)
	require.NoError(t, err)

	other := createCodebase(ctx, t, NewCodebaseRepository(pool), "tx-panic")
	abandoned := newPendingJob(other.ID, time.Now().UTC())
	assert.Panics(t, func() {
		_ = runner.WithTx(ctx, func(repos service.TxRepositories) error {
			require.NoError(t, repos.IndexJobs().Create(ctx, abandoned))
			panic("boom")
		})
	})
	_, err = jobs.GetByID(ctx, abandoned.ID)
	assert.ErrorIs(t, err, domain.ErrIndexJobNotFound)
}
