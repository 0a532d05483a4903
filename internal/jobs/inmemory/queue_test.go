package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/jobs"
	"github.com/dvloznov/settlement-ledger/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, store *Store, id string, want jobs.JobStatus) *jobs.Job {
	t.Helper()
	var got *jobs.Job
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestQueueRunsJob(t *testing.T) {
	store := NewStore()
	m := metrics.New()
	q := NewQueue(4, store, QueueOptions{Workers: 2, Metrics: m})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		job.Result = []byte(`{"inserted":1}`)
		return nil
	}))
	defer q.Close()

	job := jobs.NewSyncJob(jobs.SyncParams{Days: 7})
	require.NoError(t, q.Publish(ctx, job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, jobs.DefaultMaxRetries, job.MaxRetries)

	done := waitForStatus(t, store, job.ID, jobs.JobStatusCompleted)
	assert.JSONEq(t, `{"inserted":1}`, string(done.Result))
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, 7, done.Sync.Days)
	assert.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(m.Registry(), "ledger_jobs_finished_total")
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueueRetriesWithBackoff(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, store, QueueOptions{BaseBackoff: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))
	defer q.Close()

	job := jobs.NewReparseJob(jobs.ReparseParams{Limit: 10})
	require.NoError(t, q.Publish(ctx, job))

	done := waitForStatus(t, store, job.ID, jobs.JobStatusCompleted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 2, done.RetryCount)
	assert.Empty(t, done.Error)
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, store, QueueOptions{BaseBackoff: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("mailbox unreachable")
	}))
	defer q.Close()

	job := jobs.NewSyncJob(jobs.SyncParams{})
	job.MaxRetries = 2
	require.NoError(t, q.Publish(ctx, job))

	failed := waitForStatus(t, store, job.ID, jobs.JobStatusFailed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, "mailbox unreachable", failed.Error)
}

func TestQueuePublishAfterClose(t *testing.T) {
	q := NewQueue(1, NewStore(), QueueOptions{})
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.Publish(context.Background(), jobs.NewSyncJob(jobs.SyncParams{}))
	require.Error(t, err)
	require.Error(t, q.Start(context.Background(), func(ctx context.Context, job *jobs.Job) error { return nil }))
}

func TestStoreListJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, typ := range []jobs.JobType{jobs.JobTypeSyncMailbox, jobs.JobTypeReparseFacts, jobs.JobTypeSyncMailbox} {
		require.NoError(t, store.SaveJob(ctx, &jobs.Job{
			ID:        string(rune('a' + i)),
			Type:      typ,
			Status:    jobs.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	syncs, err := store.ListJobs(ctx, jobs.JobFilter{Type: jobs.JobTypeSyncMailbox, Limit: 1})
	require.NoError(t, err)
	require.Len(t, syncs, 1)
	assert.Equal(t, "c", syncs[0].ID)

	empty, err := store.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.UpdateJobStatus(ctx, "b", jobs.JobStatusFailed, "boom"))
	got, err := store.GetJob(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestStoreNotFound(t *testing.T) {
	store := NewStore()

	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.ErrorIs(t, store.UpdateJobStatus(context.Background(), "missing", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
	assert.Error(t, store.SaveJob(context.Background(), &jobs.Job{}))
}
